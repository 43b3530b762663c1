package metrics

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strconv"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/doridoridoriand/classwatch/internal/display"
	"github.com/doridoridoriand/classwatch/internal/scheduler"
)

var phases = []scheduler.Phase{
	scheduler.PhaseIdle,
	scheduler.PhaseInit,
	scheduler.PhasePoll,
	scheduler.PhaseEmpty,
	scheduler.PhaseStopped,
}

// BoardSource provides the rows currently on display.
type BoardSource interface {
	Snapshot() display.Snapshot
}

// StatsSource provides polling loop counters.
type StatsSource interface {
	Stats() scheduler.Stats
}

// Server exposes Prometheus metrics for one classroom.
type Server struct {
	board BoardSource
	stats StatsSource
}

// NewServer constructs a metrics server. stats may be nil.
func NewServer(board BoardSource, stats StatsSource) *Server {
	return &Server{board: board, stats: stats}
}

// Handler returns an http handler that serves metrics.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		bw := bufio.NewWriter(w)
		defer bw.Flush()

		enc := expfmt.NewEncoder(bw, format)
		for _, mf := range s.Families() {
			if err := enc.Encode(mf); err != nil {
				return
			}
		}
	})
}

// Families builds the metric families for the current board and counters.
func (s *Server) Families() []*dto.MetricFamily {
	snap := s.board.Snapshot()
	families := []*dto.MetricFamily{
		gaugeFamily("classwatch_students", "Students on the class roster.", float64(len(snap.Rows))),
	}
	// the text format rejects families without samples
	if acc := accuracyFamily(snap); len(acc.Metric) > 0 {
		families = append(families, acc)
	}
	if s.stats == nil {
		return families
	}

	stats := s.stats.Stats()
	families = append(families,
		counterFamily("classwatch_cycles_total", "Completed polling cycles.", float64(stats.Cycles)),
		counterFamily("classwatch_feed_errors_total", "Status fetches that failed in transport.", float64(stats.FeedErrors)),
		counterFamily("classwatch_decode_errors_total", "Status payloads that could not be decoded.", float64(stats.DecodeErrors)),
		phaseFamily(stats.Phase),
	)
	return families
}

func accuracyFamily(snap display.Snapshot) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String("classwatch_student_accuracy_percent"),
		Help: proto.String("Share of counted events in which the student was looking."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, row := range snap.Rows {
		if !row.Measured {
			continue
		}
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{
				label("student_id", strconv.FormatInt(row.StudentID, 10)),
				label("name", row.Name),
			},
			Gauge: &dto.Gauge{Value: proto.Float64(row.Percent)},
		})
	}
	return mf
}

func phaseFamily(current scheduler.Phase) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String("classwatch_session_phase"),
		Help: proto.String("Current phase of the monitoring session."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{label("phase", string(p))},
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		})
	}
	return mf
}

func gaugeFamily(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}

func counterFamily(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

// Serve starts an HTTP server and blocks until context cancellation.
func Serve(ctx context.Context, addr string, board BoardSource, stats StatsSource) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewServer(board, stats).Handler())
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}
