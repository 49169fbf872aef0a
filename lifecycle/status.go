package lifecycle

import "ridelink/models"

// edge is one row of the transition table.
type edge struct {
	from models.RideStatus
	to   models.RideStatus
}

// transitions is the complete set of legal status edges. Every transition a
// ride can take is a row here; anything else is ErrInvalidTransition.
var transitions = map[edge]bool{
	{models.StatusPending, models.StatusAccepted}:   true,
	{models.StatusPending, models.StatusRejected}:   true,
	{models.StatusAccepted, models.StatusStarted}:   true,
	{models.StatusStarted, models.StatusPickedUp}:   true,
	{models.StatusPickedUp, models.StatusCompleted}: true,
	{models.StatusAccepted, models.StatusCancelled}: true,
	{models.StatusStarted, models.StatusCancelled}:  true,
	{models.StatusPickedUp, models.StatusCancelled}: true,
}

// CanTransition reports whether the table has an edge from -> to.
func CanTransition(from, to models.RideStatus) bool {
	return transitions[edge{from, to}]
}

// ParseStatus maps a client-supplied status string onto a known status.
func ParseStatus(s string) (models.RideStatus, bool) {
	switch models.RideStatus(s) {
	case models.StatusPending, models.StatusAccepted, models.StatusRejected,
		models.StatusStarted, models.StatusPickedUp, models.StatusCompleted,
		models.StatusCancelled:
		return models.RideStatus(s), true
	}
	return "", false
}
