package system

import (
	"testing"
	"time"

	"github.com/JakeFAU/workspace-portal/internal/events"
	"github.com/JakeFAU/workspace-portal/internal/notebook"
	"github.com/JakeFAU/workspace-portal/internal/services"
)

var (
	_ services.Clock = Clock{}
	_ notebook.Clock = Clock{}
	_ events.Clock   = Clock{}
)

// TestClockNowUTC ensures the clock returns current UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}
