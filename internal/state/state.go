package state

import (
	"time"

	"github.com/doridoridoriand/classwatch/internal/feed"
)

// Display strings shared with the polling loop and renderers.
const (
	AccuracyUnavailable = "N/A"
	MessageStale        = "last seen long time ago"
	MessageNoRecord     = "no record found"
)

// AccuracyState holds the running statistics for one student.
type AccuracyState struct {
	LookingCount int
	TotalCount   int
	LastSeen     time.Time
	// Seen is false until the first counted event, so a zero LastSeen
	// never collides with a real timestamp.
	Seen bool
}

// Percent returns looking/total as a percentage rounded to one decimal.
func (a AccuracyState) Percent() float64 {
	if a.TotalCount == 0 {
		return 0
	}
	return roundTo(float64(a.LookingCount)/float64(a.TotalCount)*100, 1)
}

// Outcome is the result of feeding one event to the tracker.
type Outcome struct {
	Accuracy     float64
	AccuracyText string
	Message      string
	// Stale is set when the event was older than the freshness window.
	Stale bool
	// Counted is set when the event changed the counters.
	Counted bool
}

// Store tracks per-student accuracy.
type Store interface {
	Seed(ids []int64)
	Update(id int64, event feed.StatusEvent, now time.Time) (Outcome, error)
	Get(id int64) (AccuracyState, bool)
	Snapshot() map[int64]AccuracyState
	SetStaleAfter(d time.Duration)
}
