package state

import (
	"fmt"
	"math"
	"time"
)

// DefaultStaleAfter is the age at which an event stops being actionable.
const DefaultStaleAfter = 7 * time.Hour

// Evaluate reports whether an event is still fresh at now, and a relative
// age label such as "12.50min ago". Stale events get MessageNoRecord.
func Evaluate(eventTime, now time.Time, staleAfter time.Duration) (bool, string) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	deltaMinutes := now.Sub(eventTime).Minutes()
	if deltaMinutes/60 >= staleAfter.Hours() {
		return false, MessageNoRecord
	}
	// Clock skew between the feed and this host can put events slightly in
	// the future; those are shown as just now.
	if deltaMinutes < 0 {
		deltaMinutes = 0
	}
	return true, fmt.Sprintf("%.2fmin ago", roundTo(deltaMinutes, 2))
}

func roundTo(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
