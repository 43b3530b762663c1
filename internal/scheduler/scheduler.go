package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doridoridoriand/classwatch/internal/display"
	"github.com/doridoridoriand/classwatch/internal/feed"
	"github.com/doridoridoriand/classwatch/internal/log"
	"github.com/doridoridoriand/classwatch/internal/roster"
	"github.com/doridoridoriand/classwatch/internal/state"
)

// Row texts published by the loop itself.
const (
	MessageGetting    = "Getting"
	MessageNoMessages = "No messages yet"
	NoticeNoStudents  = "no students found"
)

const defaultInterval = 30 * time.Second

// ErrRosterUnavailable ends a session whose roster failed to load or was empty.
var ErrRosterUnavailable = errors.New("no students found")

// Phase is the lifecycle position of a Session.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseInit    Phase = "INIT"
	PhasePoll    Phase = "POLL"
	PhaseEmpty   Phase = "EMPTY"
	PhaseStopped Phase = "STOPPED"
)

// Options controls polling timing.
type Options struct {
	Interval       time.Duration
	Timeout        time.Duration
	StaleAfter     time.Duration
	MaxConcurrency int
}

// Deps are the collaborators of a Session.
type Deps struct {
	Loader  roster.Loader
	Client  feed.Client
	Tracker state.Store
	Sink    display.Sink
	Logger  *log.Logger
}

// Stats is a point-in-time view of a Session's counters.
type Stats struct {
	Phase        Phase
	Students     int
	Cycles       uint64
	Published    uint64
	FeedErrors   uint64
	DecodeErrors uint64
}

// Session polls the status feed for one class until cancelled.
type Session struct {
	id    string
	class roster.ClassContext
	deps  Deps
	now   func() time.Time

	mu       sync.RWMutex
	opts     Options
	phase    Phase
	students []roster.Student
	running  bool

	cycles       atomic.Uint64
	published    atomic.Uint64
	feedErrors   atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewSession constructs a session; Run starts it.
func NewSession(id string, class roster.ClassContext, deps Deps, opts Options) *Session {
	if deps.Logger == nil {
		deps.Logger = log.Discard()
	}
	if deps.Tracker == nil {
		deps.Tracker = state.NewStore(opts.StaleAfter)
	}
	return &Session{
		id:    id,
		class: class,
		deps:  deps,
		now:   time.Now,
		opts:  opts,
		phase: PhaseIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Class returns the monitored class.
func (s *Session) Class() roster.ClassContext { return s.class }

// Run loads the roster, then polls every interval until ctx is cancelled.
// It returns ErrRosterUnavailable when there is nothing to monitor, and
// ctx.Err() after cancellation.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session %s already running", s.id)
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.setPhase(PhaseInit, nil)
	students, err := s.deps.Loader.Students(ctx, s.class.ClassID)
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.setPhase(PhaseStopped, nil)
		return ctxErr
	}
	if err != nil || len(students) == 0 {
		s.deps.Sink.Clear(NoticeNoStudents)
		if err != nil {
			s.deps.Logger.LogError("roster", err, map[string]interface{}{"class_id": s.class.ClassID})
			err = fmt.Errorf("%w: %w", ErrRosterUnavailable, err)
		} else {
			err = ErrRosterUnavailable
		}
		s.setPhase(PhaseEmpty, nil)
		return err
	}

	s.seed(students)
	s.setPhase(PhasePoll, map[string]interface{}{"students": len(students)})

	for {
		if err := s.runCycle(ctx); err != nil {
			s.setPhase(PhaseStopped, nil)
			return err
		}

		interval, _, _ := s.currentTiming()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setPhase(PhaseStopped, nil)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// UpdateTiming applies new timing; it takes effect from the next fetch.
func (s *Session) UpdateTiming(opts Options) {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	s.deps.Tracker.SetStaleAfter(opts.StaleAfter)
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	phase, students := s.phase, len(s.students)
	s.mu.RUnlock()
	return Stats{
		Phase:        phase,
		Students:     students,
		Cycles:       s.cycles.Load(),
		Published:    s.published.Load(),
		FeedErrors:   s.feedErrors.Load(),
		DecodeErrors: s.decodeErrors.Load(),
	}
}

func (s *Session) seed(students []roster.Student) {
	ids := make([]int64, len(students))
	for i, st := range students {
		ids[i] = st.ID
	}
	s.deps.Tracker.Seed(ids)

	s.mu.Lock()
	s.students = students
	s.mu.Unlock()

	for _, st := range students {
		s.publish(display.Row{
			StudentID: st.ID,
			Name:      st.FullName(),
			Accuracy:  "0%",
			Status:    MessageGetting,
		})
	}
}

type fetchResult struct {
	res feed.Result
	err error
}

// runCycle visits every student once, in roster order. It only returns an
// error when ctx is cancelled; rows already published stay as they are.
func (s *Session) runCycle(ctx context.Context) error {
	s.mu.RLock()
	students := s.students
	s.mu.RUnlock()
	_, timeout, maxConc := s.currentTiming()

	if maxConc <= 1 {
		for _, st := range students {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := s.fetch(ctx, st, timeout)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.apply(st, res, err)
		}
		s.cycles.Add(1)
		return nil
	}

	// Fetches run in parallel; results are still applied in roster order.
	fetchCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	sem := make(chan struct{}, maxConc)
	results := make([]chan fetchResult, len(students))
	for i, st := range students {
		ch := make(chan fetchResult, 1)
		results[i] = ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-fetchCtx.Done():
				ch <- fetchResult{err: fetchCtx.Err()}
				return
			}
			defer func() { <-sem }()
			res, err := s.fetch(fetchCtx, st, timeout)
			ch <- fetchResult{res: res, err: err}
		}()
	}

	for i, st := range students {
		var r fetchResult
		select {
		case r = <-results[i]:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.apply(st, r.res, r.err)
	}
	s.cycles.Add(1)
	return nil
}

func (s *Session) fetch(ctx context.Context, st roster.Student, timeout time.Duration) (feed.Result, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.deps.Client.Fetch(fetchCtx, st.NationalCode, s.class.SchoolID, s.class.ClassID)
}

// apply turns one fetch outcome into at most one published row. Errors
// leave the student's row as it was.
func (s *Session) apply(st roster.Student, res feed.Result, err error) {
	if err != nil {
		if errors.Is(err, feed.ErrDecode) || errors.Is(err, feed.ErrTimestamp) {
			s.decodeErrors.Add(1)
		} else {
			s.feedErrors.Add(1)
		}
		s.deps.Logger.LogFeedResult(st.ID, "", err)
		return
	}

	switch res.Kind {
	case feed.KindNoMessages:
		s.deps.Logger.LogFeedResult(st.ID, MessageNoMessages, nil)
		s.publish(display.Row{
			StudentID: st.ID,
			Name:      st.FullName(),
			Accuracy:  state.AccuracyUnavailable,
			Status:    MessageNoMessages,
		})
	case feed.KindEvent:
		out, err := s.deps.Tracker.Update(st.ID, res.Event, s.now())
		if err != nil {
			s.decodeErrors.Add(1)
			s.deps.Logger.LogFeedResult(st.ID, "", err)
			return
		}
		s.deps.Logger.LogFeedResult(st.ID, res.Event.Code.String(), nil)
		s.publish(display.Row{
			StudentID: st.ID,
			Name:      st.FullName(),
			Accuracy:  out.AccuracyText,
			Status:    out.Message,
			Percent:   out.Accuracy,
			Measured:  !out.Stale,
		})
	default:
		s.decodeErrors.Add(1)
		s.deps.Logger.LogFeedResult(st.ID, "", fmt.Errorf("%w: result kind %d", feed.ErrDecode, res.Kind))
	}
}

func (s *Session) publish(row display.Row) {
	s.deps.Sink.Publish(row)
	s.published.Add(1)
}

func (s *Session) setPhase(phase Phase, fields map[string]interface{}) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
	s.deps.Logger.LogSessionPhase(s.id, s.class.ClassID, string(phase), fields)
}

func (s *Session) currentTiming() (time.Duration, time.Duration, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	interval := s.opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := s.opts.Timeout
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return interval, timeout, s.opts.MaxConcurrency
}
