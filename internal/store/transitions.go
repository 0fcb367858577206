package store

import "smartclinic/backend/internal/models"

const (
	ActionCheckIn    = "check_in"
	ActionCallNext   = "call_next"
	ActionMarkServed = "mark_served"
	ActionNoShow     = "no_show"
)

// transitionMap lists, per action, the statuses a ticket may be in for the
// action to apply. served is terminal. no_show is kept in the table even
// though no operation triggers it yet.
var transitionMap = map[string][]string{
	ActionCheckIn:    {models.StatusWaiting},
	ActionCallNext:   {models.StatusWaiting},
	ActionMarkServed: {models.StatusCalled, models.StatusCheckedIn},
	ActionNoShow:     {models.StatusWaiting, models.StatusCheckedIn, models.StatusCalled},
}

var targetStatus = map[string]string{
	ActionCheckIn:    models.StatusCheckedIn,
	ActionCallNext:   models.StatusCalled,
	ActionMarkServed: models.StatusServed,
	ActionNoShow:     models.StatusNoShow,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// TargetStatus returns the status an action moves a ticket into, or "" for
// an unknown action.
func TargetStatus(action string) string {
	return targetStatus[action]
}
