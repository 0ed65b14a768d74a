package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/ai-radar/internal/mirror"
	"github.com/example/ai-radar/internal/pipeline"
	"github.com/example/ai-radar/internal/repository"
	"github.com/example/ai-radar/internal/scoring"
	"github.com/example/ai-radar/internal/status"
)

type stubVerifier struct{}

func (stubVerifier) VerifyConsent(token string) (mirror.Consent, error) {
	if token == "" || strings.HasPrefix(token, "bad") {
		return mirror.Consent{}, errors.New("signature invalid")
	}
	return mirror.Consent{Subject: "user-" + token, TokenID: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type stubJournal struct {
	mu    sync.Mutex
	saved []*repository.RunLog
	agg   *repository.MetricsAggregation
	err   error
}

func (j *stubJournal) SaveRun(ctx context.Context, log *repository.RunLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saved = append(j.saved, log)
	return j.err
}

func (j *stubJournal) FindByRequestID(ctx context.Context, requestID string) (*repository.RunLog, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, log := range j.saved {
		if log.RequestID == requestID {
			return log, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (j *stubJournal) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return j.agg, j.err
}

func (j *stubJournal) runs() []*repository.RunLog {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*repository.RunLog(nil), j.saved...)
}

type constantModel struct {
	value float32
}

func (m constantModel) Forward(ctx context.Context, input []float32) ([]float32, error) {
	out := make([]float32, scoring.OutputLength)
	out[0] = m.value
	return out, nil
}

func (constantModel) Close() error { return nil }

func newTestCoordinator(t *testing.T, journal Journal) (*Coordinator, chan pipeline.Outcome) {
	t.Helper()
	backend, err := mirror.NewSynthetic(mirror.SyntheticOptions{
		Metrics:       mirror.Metrics{Width: 200, Height: 120, Density: 2},
		FrameInterval: time.Millisecond,
		RowAlignment:  64,
	})
	if err != nil {
		t.Fatalf("synthetic backend: %v", err)
	}
	session := mirror.NewSession(backend, stubVerifier{}, zap.NewNop())
	engine := scoring.NewEngine(constantModel{value: 0.5}, nil, zap.NewNop())
	surface := status.NewSurface(zap.NewNop(), status.Options{})
	t.Cleanup(surface.Close)

	done := make(chan pipeline.Outcome, 4)
	opts := Options{
		Journal: journal,
		Pipeline: pipeline.Options{
			Settle1:    5 * time.Millisecond,
			Settle2:    20 * time.Millisecond,
			OnComplete: func(o pipeline.Outcome) { done <- o },
		},
	}
	c := New(session, engine, surface, zap.NewNop(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("start returned %v", err)
		}
	})
	return c, done
}

func waitOutcome(t *testing.T, done <-chan pipeline.Outcome) pipeline.Outcome {
	t.Helper()
	select {
	case o := <-done:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for run outcome")
	}
	return pipeline.Outcome{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunNowWithoutGrantIsNoop(t *testing.T) {
	c, _ := newTestCoordinator(t, &stubJournal{})

	if err := c.RunNow(context.Background()); !errors.Is(err, pipeline.ErrGrantMissing) {
		t.Fatalf("expected ErrGrantMissing, got %v", err)
	}
	if v := c.Status().Version; v != 0 {
		t.Fatalf("expected untouched status, got version %d", v)
	}
}

func TestGrantConsentPublishesReady(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	if err := c.GrantConsent(context.Background(), "bad-token"); !errors.Is(err, mirror.ErrInvalidConsent) {
		t.Fatalf("expected ErrInvalidConsent, got %v", err)
	}
	if err := c.GrantConsent(context.Background(), "t1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !c.HasGrant() {
		t.Fatal("expected grant held")
	}
	if rec := c.Status(); rec.Title != "Radar Aktif" {
		t.Fatalf("unexpected status %+v", rec)
	}
	if err := c.GrantConsent(context.Background(), "t2"); !errors.Is(err, mirror.ErrGrantHeld) {
		t.Fatalf("expected ErrGrantHeld, got %v", err)
	}

	c.Revoke()
	if c.HasGrant() {
		t.Fatal("expected grant released")
	}
	if rec := c.Status(); rec.Title != "Radar Kapalı" {
		t.Fatalf("unexpected status after revoke %+v", rec)
	}
	if err := c.GrantConsent(context.Background(), "t1"); !errors.Is(err, mirror.ErrConsentReused) {
		t.Fatalf("expected ErrConsentReused, got %v", err)
	}
	if err := c.GrantConsent(context.Background(), "t2"); err != nil {
		t.Fatalf("fresh token after revoke: %v", err)
	}
}

func TestRunNowJournalsOutcome(t *testing.T) {
	journal := &stubJournal{}
	c, done := newTestCoordinator(t, journal)
	if err := c.GrantConsent(context.Background(), "t1"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := c.RunNow(context.Background()); err != nil {
		t.Fatalf("run now: %v", err)
	}
	out := waitOutcome(t, done)
	if out.Result != pipeline.ResultCompleted || out.Score != 50 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if rec := c.Status(); rec.Body != "Yapaylık Skoru: %50" {
		t.Fatalf("unexpected status %+v", rec)
	}
	// 100px at 4 bytes per pixel aligned to 64 bytes gives 448-byte rows.
	if out.FrameWidth != 112 || out.FrameHeight != 60 {
		t.Fatalf("unexpected frame size %dx%d", out.FrameWidth, out.FrameHeight)
	}

	waitFor(t, func() bool { return len(journal.runs()) == 1 })
	log := journal.runs()[0]
	if log.RequestID != out.Request.ID || log.Subject != "user-t1" || log.Result != "completed" {
		t.Fatalf("unexpected journal entry %+v", log)
	}
	found, err := c.FindRun(context.Background(), out.Request.ID)
	if err != nil || found.Score != 50 {
		t.Fatalf("find run: %+v %v", found, err)
	}
}

func TestTapTriggersRun(t *testing.T) {
	c, done := newTestCoordinator(t, nil)
	if err := c.GrantConsent(context.Background(), "t1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// Start registers the tap action asynchronously.
	waitFor(t, func() bool {
		return !errors.Is(c.Tap(context.Background()), status.ErrNoTapHandler)
	})

	out := waitOutcome(t, done)
	if out.Result != pipeline.ResultCompleted {
		t.Fatalf("unexpected outcome %+v", out)
	}
	waitFor(t, func() bool { return c.State() == pipeline.Idle })
}

func TestJournalDisabled(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	if _, err := c.MetricsSummary(context.Background()); !errors.Is(err, ErrJournalDisabled) {
		t.Fatalf("expected ErrJournalDisabled, got %v", err)
	}
	if _, err := c.FindRun(context.Background(), "x"); !errors.Is(err, ErrJournalDisabled) {
		t.Fatalf("expected ErrJournalDisabled, got %v", err)
	}
}

func TestMetricsSummary(t *testing.T) {
	journal := &stubJournal{agg: &repository.MetricsAggregation{
		TotalCount:              4,
		CompletedCount:          3,
		AverageScore:            55,
		AverageCaptureLatencyMs: 510,
		AverageScoringLatencyMs: 30,
	}}
	c, _ := newTestCoordinator(t, journal)

	summary, err := c.MetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if summary.TotalRuns != 4 || summary.CompletionRate != 0.75 || summary.AverageScore != 55 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
