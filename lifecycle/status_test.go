package lifecycle

import (
	"testing"

	"ridelink/models"
)

func TestTransitionTable(t *testing.T) {
	legal := []edge{
		{models.StatusPending, models.StatusAccepted},
		{models.StatusPending, models.StatusRejected},
		{models.StatusAccepted, models.StatusStarted},
		{models.StatusStarted, models.StatusPickedUp},
		{models.StatusPickedUp, models.StatusCompleted},
		{models.StatusAccepted, models.StatusCancelled},
		{models.StatusStarted, models.StatusCancelled},
		{models.StatusPickedUp, models.StatusCancelled},
	}
	for _, e := range legal {
		if !CanTransition(e.from, e.to) {
			t.Errorf("%s -> %s should be legal", e.from, e.to)
		}
	}

	illegal := []edge{
		{models.StatusPending, models.StatusStarted},
		{models.StatusPending, models.StatusCancelled},
		{models.StatusAccepted, models.StatusPickedUp},
		{models.StatusStarted, models.StatusCompleted},
		{models.StatusRejected, models.StatusAccepted},
		{models.StatusCompleted, models.StatusCancelled},
		{models.StatusCancelled, models.StatusStarted},
		{models.StatusAccepted, models.StatusPending},
	}
	for _, e := range illegal {
		if CanTransition(e.from, e.to) {
			t.Errorf("%s -> %s should be illegal", e.from, e.to)
		}
	}

	// No edges out of terminal states at all.
	all := []models.RideStatus{
		models.StatusPending, models.StatusAccepted, models.StatusRejected,
		models.StatusStarted, models.StatusPickedUp, models.StatusCompleted,
		models.StatusCancelled,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s has an edge to %s", from, to)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "accepted", "rejected", "started", "picked_up", "completed", "cancelled"} {
		if _, ok := ParseStatus(s); !ok {
			t.Errorf("ParseStatus(%q) = not ok", s)
		}
	}
	for _, s := range []string{"", "PENDING", "done", "pickedup"} {
		if _, ok := ParseStatus(s); ok {
			t.Errorf("ParseStatus(%q) accepted", s)
		}
	}
}
