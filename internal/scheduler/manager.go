package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/doridoridoriand/classwatch/internal/roster"
)

// ErrUnknownSession is returned for handles the manager never issued.
var ErrUnknownSession = errors.New("unknown session")

// Handle identifies a running session.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// Factory builds the session for a class. The id is the handle's string form.
type Factory func(id string, class roster.ClassContext) *Session

type run struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Manager owns monitoring sessions. Each Start launches an independent
// session; Cancel stops it and Wait collects its result.
type Manager struct {
	factory Factory

	mu   sync.Mutex
	runs map[Handle]*run
}

// NewManager returns a manager that builds sessions with factory.
func NewManager(factory Factory) *Manager {
	return &Manager{
		factory: factory,
		runs:    make(map[Handle]*run),
	}
}

// Start begins monitoring class in the background.
func (m *Manager) Start(ctx context.Context, class roster.ClassContext) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}

	h := Handle(uuid.New())
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		session: m.factory(h.String(), class),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.runs[h] = r
	m.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()
		r.err = r.session.Run(runCtx)
	}()
	return h, nil
}

// Session returns the session behind h.
func (m *Manager) Session(h Handle) (*Session, bool) {
	r, ok := m.lookup(h)
	if !ok {
		return nil, false
	}
	return r.session, true
}

// Sessions returns every session the manager has started.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.session)
	}
	return out
}

// Cancel requests that the session stop. It is safe to call repeatedly.
func (m *Manager) Cancel(h Handle) {
	if r, ok := m.lookup(h); ok {
		r.cancel()
	}
}

// Wait blocks until the session has stopped and returns its result.
func (m *Manager) Wait(h Handle) error {
	r, ok := m.lookup(h)
	if !ok {
		return ErrUnknownSession
	}
	<-r.done
	return r.err
}

// Done returns a channel closed when the session stops.
func (m *Manager) Done(h Handle) <-chan struct{} {
	r, ok := m.lookup(h)
	if !ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

// Stop cancels every session and waits for all of them.
func (m *Manager) Stop() {
	m.mu.Lock()
	runs := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		<-r.done
	}
}

func (m *Manager) lookup(h Handle) (*run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[h]
	return r, ok
}
