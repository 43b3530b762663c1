package state

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/doridoridoriand/classwatch/internal/feed"
)

const agePlaceholder = "{age}"

var messageTemplates = map[feed.Code]string{
	feed.CodeNeedsUpdate:         "Needs updated",
	feed.CodeAbsent:              "Students goes-{age}",
	feed.CodeIdentityUnconfirmed: "Identity not confirmed-{age}",
	feed.CodeSleeping:            "Sleeping-{age}",
	feed.CodeNotLooking:          "Not looking-{age}",
	feed.CodeLooking:             "Looking-{age}",
}

// StoreImpl is a thread-safe in-memory accuracy tracker scoped to one
// monitoring session.
type StoreImpl struct {
	mu         sync.RWMutex
	students   map[int64]*AccuracyState
	staleAfter time.Duration
}

// NewStore creates an empty tracker. A non-positive staleAfter selects
// DefaultStaleAfter.
func NewStore(staleAfter time.Duration) *StoreImpl {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &StoreImpl{
		students:   make(map[int64]*AccuracyState),
		staleAfter: staleAfter,
	}
}

// Seed creates zeroed entries for the roster, keeping existing ones.
func (s *StoreImpl) Seed(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.stateFor(id)
	}
}

// Update applies one decoded event for a student.
//
// Stale events leave the counters untouched. An event whose timestamp equals
// the last counted one is a re-poll of the same record: the message is
// refreshed but nothing is counted.
func (s *StoreImpl) Update(id int64, event feed.StatusEvent, now time.Time) (Outcome, error) {
	tmpl, ok := messageTemplates[event.Code]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: unknown status code %d", feed.ErrDecode, int(event.Code))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(id)
	fresh, age := Evaluate(event.Timestamp, now, s.staleAfter)
	if !fresh {
		return Outcome{
			Accuracy:     st.Percent(),
			AccuracyText: AccuracyUnavailable,
			Message:      MessageStale,
			Stale:        true,
		}, nil
	}

	counted := false
	if !st.Seen || !st.LastSeen.Equal(event.Timestamp) {
		st.LastSeen = event.Timestamp
		st.Seen = true
		st.TotalCount++
		if event.Code == feed.CodeLooking {
			st.LookingCount++
		}
		counted = true
	}

	return Outcome{
		Accuracy:     st.Percent(),
		AccuracyText: FormatAccuracy(*st),
		Message:      strings.ReplaceAll(tmpl, agePlaceholder, age),
		Counted:      counted,
	}, nil
}

// Get returns a copy of one student's state.
func (s *StoreImpl) Get(id int64) (AccuracyState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.students[id]
	if !ok {
		return AccuracyState{}, false
	}
	return *st, true
}

// Snapshot returns copies of all tracked states.
func (s *StoreImpl) Snapshot() map[int64]AccuracyState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]AccuracyState, len(s.students))
	for id, st := range s.students {
		out[id] = *st
	}
	return out
}

// SetStaleAfter changes the freshness window for subsequent updates.
func (s *StoreImpl) SetStaleAfter(d time.Duration) {
	if d <= 0 {
		d = DefaultStaleAfter
	}
	s.mu.Lock()
	s.staleAfter = d
	s.mu.Unlock()
}

func (s *StoreImpl) stateFor(id int64) *AccuracyState {
	if st, ok := s.students[id]; ok {
		return st
	}
	st := &AccuracyState{}
	s.students[id] = st
	return st
}

// FormatAccuracy renders the accuracy column. Students with no counted
// events show "0%".
func FormatAccuracy(st AccuracyState) string {
	if st.TotalCount == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", st.Percent())
}
