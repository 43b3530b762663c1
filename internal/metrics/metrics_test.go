package metrics

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/doridoridoriand/classwatch/internal/display"
	"github.com/doridoridoriand/classwatch/internal/scheduler"
)

type fakeBoard struct {
	snapshot display.Snapshot
}

func (f fakeBoard) Snapshot() display.Snapshot { return f.snapshot }

type fakeStats struct {
	stats scheduler.Stats
}

func (f fakeStats) Stats() scheduler.Stats { return f.stats }

func sampleBoard() fakeBoard {
	return fakeBoard{snapshot: display.Snapshot{
		Class: "Math 7-B",
		Rows: []display.Row{
			{StudentID: 1, Name: "Ali \"Ace\" Ahmadi", Accuracy: "50.0%", Percent: 50, Measured: true},
			{StudentID: 2, Name: "Sara Karimi", Accuracy: "0%", Status: "Getting"},
			{StudentID: 3, Name: "Reza Bahrami", Accuracy: "100.0%", Percent: 100, Measured: true},
		},
	}}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	return rec.Body.String()
}

func TestHandlerExposesFamilies(t *testing.T) {
	srv := NewServer(sampleBoard(), fakeStats{stats: scheduler.Stats{
		Phase:        scheduler.PhasePoll,
		Cycles:       4,
		FeedErrors:   2,
		DecodeErrors: 1,
	}})

	body := scrape(t, srv.Handler())

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(body))
	if err != nil {
		t.Fatalf("output is not valid exposition text: %v\n%s", err, body)
	}

	if v := families["classwatch_students"].GetMetric()[0].GetGauge().GetValue(); v != 3 {
		t.Fatalf("expected 3 students, got %v", v)
	}
	if v := families["classwatch_cycles_total"].GetMetric()[0].GetCounter().GetValue(); v != 4 {
		t.Fatalf("expected 4 cycles, got %v", v)
	}
	if v := families["classwatch_feed_errors_total"].GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Fatalf("expected 2 feed errors, got %v", v)
	}
	if v := families["classwatch_decode_errors_total"].GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Fatalf("expected 1 decode error, got %v", v)
	}

	accuracy := families["classwatch_student_accuracy_percent"].GetMetric()
	if len(accuracy) != 2 {
		t.Fatalf("expected only measured students, got %d series", len(accuracy))
	}
	if name := labelValue(accuracy[0], "name"); name != "Ali \"Ace\" Ahmadi" {
		t.Fatalf("label value not preserved: %q", name)
	}
	if accuracy[1].GetGauge().GetValue() != 100 {
		t.Fatalf("unexpected accuracy %v", accuracy[1].GetGauge().GetValue())
	}

	for _, m := range families["classwatch_session_phase"].GetMetric() {
		want := 0.0
		if labelValue(m, "phase") == string(scheduler.PhasePoll) {
			want = 1
		}
		if m.GetGauge().GetValue() != want {
			t.Fatalf("unexpected phase series %v", m)
		}
	}
}

func TestHandlerWithoutStats(t *testing.T) {
	body := scrape(t, NewServer(sampleBoard(), nil).Handler())
	if strings.Contains(body, "classwatch_cycles_total") {
		t.Fatalf("did not expect loop counters without a stats source")
	}
	if !strings.Contains(body, "classwatch_students 3") {
		t.Fatalf("expected student gauge, got:\n%s", body)
	}
}

func TestFamiliesSkipUnmeasuredBoard(t *testing.T) {
	board := fakeBoard{snapshot: display.Snapshot{Rows: []display.Row{{StudentID: 1, Accuracy: "0%"}}}}
	for _, mf := range NewServer(board, nil).Families() {
		if mf.GetName() == "classwatch_student_accuracy_percent" {
			t.Fatalf("empty accuracy family must be omitted")
		}
	}
	body := scrape(t, NewServer(board, fakeStats{}).Handler())
	if !strings.Contains(body, "classwatch_cycles_total 0") {
		t.Fatalf("expected counters after empty accuracy family, got:\n%s", body)
	}
}

func TestHandlerRejectsPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	rec := httptest.NewRecorder()
	NewServer(sampleBoard(), nil).Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, sampleBoard(), nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}
