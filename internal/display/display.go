package display

import (
	"sync"
	"time"
)

// Row is the projection of one student shown to the teacher.
type Row struct {
	StudentID int64     `json:"student_id"`
	Name      string    `json:"name"`
	Accuracy  string    `json:"accuracy"`
	Status    string    `json:"status"`
	Percent   float64   `json:"percent"`
	Measured  bool      `json:"measured"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sink receives rows from the polling loop. Implementations must return
// quickly; the loop calls Publish once per student per cycle.
type Sink interface {
	Publish(row Row)
	// Clear drops every row and shows notice instead (empty state).
	Clear(notice string)
}

// Snapshot is a consistent copy of a Board.
type Snapshot struct {
	Class   string    `json:"class"`
	Notice  string    `json:"notice,omitempty"`
	Rows    []Row     `json:"rows"`
	Updated time.Time `json:"updated"`
}

// Board keeps the latest row per student in first-publish order.
type Board struct {
	mu      sync.RWMutex
	class   string
	notice  string
	order   []int64
	rows    map[int64]Row
	updated time.Time
	now     func() time.Time
}

// NewBoard returns an empty board titled with the class name.
func NewBoard(class string) *Board {
	return &Board{
		class: class,
		rows:  make(map[int64]Row),
		now:   time.Now,
	}
}

// Publish stores or replaces the row for row.StudentID.
func (b *Board) Publish(row Row) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = b.now()
	}
	if _, ok := b.rows[row.StudentID]; !ok {
		b.order = append(b.order, row.StudentID)
	}
	b.rows[row.StudentID] = row
	b.notice = ""
	b.updated = row.UpdatedAt
}

// Clear removes all rows and records notice.
func (b *Board) Clear(notice string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.order = nil
	b.rows = make(map[int64]Row)
	b.notice = notice
	b.updated = b.now()
}

// Snapshot returns a copy of the board.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := make([]Row, 0, len(b.order))
	for _, id := range b.order {
		rows = append(rows, b.rows[id])
	}
	return Snapshot{
		Class:   b.class,
		Notice:  b.notice,
		Rows:    rows,
		Updated: b.updated,
	}
}

// Fanout forwards every call to each sink in order.
type Fanout []Sink

func (f Fanout) Publish(row Row) {
	for _, s := range f {
		s.Publish(row)
	}
}

func (f Fanout) Clear(notice string) {
	for _, s := range f {
		s.Clear(notice)
	}
}
