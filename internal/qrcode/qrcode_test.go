package qrcode

import (
	"bytes"
	"testing"
)

func TestTicketPNG(t *testing.T) {
	img, err := TicketPNG("3f0c8e5e-8a30-4a6b-9f6a-0d9b2f0d8a11")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	if !bytes.HasPrefix(img, pngMagic) {
		t.Fatal("output is not a PNG")
	}

	// Same input, same image.
	again, err := TicketPNG("3f0c8e5e-8a30-4a6b-9f6a-0d9b2f0d8a11")
	if err != nil {
		t.Fatalf("encode again: %v", err)
	}
	if !bytes.Equal(img, again) {
		t.Fatal("encoding is not deterministic")
	}

	if _, err := TicketPNG(""); err == nil {
		t.Fatal("empty ticket id accepted")
	}
}
