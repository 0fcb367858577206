// Package qrcode renders ticket identifiers as scannable PNG images for the
// check-in flow.
package qrcode

import (
	"errors"

	qr "github.com/skip2/go-qrcode"
)

const imageSize = 256

var ErrEmptyTicketID = errors.New("empty ticket id")

// TicketPNG encodes a ticket id as a PNG. Pure function, no state.
func TicketPNG(ticketID string) ([]byte, error) {
	if ticketID == "" {
		return nil, ErrEmptyTicketID
	}
	return qr.Encode(ticketID, qr.Medium, imageSize)
}
