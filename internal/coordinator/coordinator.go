// Package coordinator owns the process-wide grant and wires consent, the
// capture pipeline, the status surface and the run journal together.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ai-radar/internal/logging"
	"github.com/example/ai-radar/internal/mirror"
	"github.com/example/ai-radar/internal/pipeline"
	"github.com/example/ai-radar/internal/repository"
	"github.com/example/ai-radar/internal/status"
)

// ErrJournalDisabled is returned by journal lookups when no journal is configured.
var ErrJournalDisabled = errors.New("coordinator: run journal disabled")

// Journal defines the persistence operations needed by the coordinator.
type Journal interface {
	SaveRun(ctx context.Context, log *repository.RunLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.RunLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Options configure a Coordinator.
type Options struct {
	Pipeline pipeline.Options
	// Journal is optional; without it outcomes are only logged.
	Journal Journal
	// OutcomeBuffer bounds how many finished runs may wait for the journal.
	OutcomeBuffer int
	// SaveTimeout bounds a single journal write.
	SaveTimeout time.Duration
}

// Coordinator is the single owner of the mirror grant.
type Coordinator struct {
	session     *mirror.Session
	surface     *status.Surface
	pipeline    *pipeline.Pipeline
	journal     Journal
	messages    status.Messages
	logger      *zap.Logger
	saveTimeout time.Duration

	mu    sync.Mutex
	grant *mirror.Grant

	outcomes chan *repository.RunLog
}

// New builds the coordinator and the pipeline it drives.
func New(session *mirror.Session, scorer pipeline.Scorer, surface *status.Surface, logger *zap.Logger, opts Options) *Coordinator {
	if opts.OutcomeBuffer <= 0 {
		opts.OutcomeBuffer = 16
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	if opts.Pipeline.Messages == (status.Messages{}) {
		opts.Pipeline.Messages = status.Turkish
	}

	c := &Coordinator{
		session:     session,
		surface:     surface,
		journal:     opts.Journal,
		messages:    opts.Pipeline.Messages,
		logger:      logger.Named("coordinator"),
		saveTimeout: opts.SaveTimeout,
		outcomes:    make(chan *repository.RunLog, opts.OutcomeBuffer),
	}

	pipeOpts := opts.Pipeline
	next := pipeOpts.OnComplete
	pipeOpts.OnComplete = func(out pipeline.Outcome) {
		c.enqueue(out)
		if next != nil {
			next(out)
		}
	}
	c.pipeline = pipeline.New(session, scorer, surface, logger, pipeOpts)
	return c
}

// Start runs the pipeline loop and the outcome recorder until ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	c.surface.OnTap(c.RunNow)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.pipeline.Run(gctx)
	})
	g.Go(func() error {
		return c.recordOutcomes(gctx)
	})
	err := g.Wait()
	c.Revoke()
	return err
}

// GrantConsent exchanges a consent token for the process-wide grant.
func (c *Coordinator) GrantConsent(ctx context.Context, token string) error {
	grant, err := c.session.AcquireGrant(token)
	if err != nil {
		c.logger.Warn("consent rejected", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.grant = grant
	c.mu.Unlock()

	c.surface.Publish(c.messages.ReadyTitle, c.messages.ReadyBody)
	return nil
}

// Revoke withdraws the grant. A run in flight loses its mirror and reports
// a capture failure.
func (c *Coordinator) Revoke() {
	c.mu.Lock()
	grant := c.grant
	c.grant = nil
	c.mu.Unlock()

	if !grant.Valid() {
		return
	}
	c.session.Revoke()
	c.surface.Publish(c.messages.RevokedTitle, c.messages.RevokedBody)
}

// HasGrant reports whether a valid grant is held.
func (c *Coordinator) HasGrant() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grant.Valid()
}

// RunNow triggers a capture run under the held grant.
func (c *Coordinator) RunNow(ctx context.Context) error {
	c.mu.Lock()
	grant := c.grant
	c.mu.Unlock()
	return c.pipeline.Trigger(ctx, grant)
}

// State returns the pipeline stage.
func (c *Coordinator) State() pipeline.State {
	return c.pipeline.State()
}

// Status returns the record the user currently sees.
func (c *Coordinator) Status() status.Record {
	return c.surface.Current()
}

// Tap invokes the status surface's re-trigger action.
func (c *Coordinator) Tap(ctx context.Context) error {
	return c.surface.Tap(ctx)
}

// FindRun loads a journaled run.
func (c *Coordinator) FindRun(ctx context.Context, requestID string) (*repository.RunLog, error) {
	if c.journal == nil {
		return nil, ErrJournalDisabled
	}
	return c.journal.FindByRequestID(ctx, requestID)
}

func (c *Coordinator) enqueue(out pipeline.Outcome) {
	c.mu.Lock()
	subject := c.grant.Subject()
	c.mu.Unlock()

	log := toRunLog(out, subject)
	select {
	case c.outcomes <- log:
	default:
		logging.WithOperation(c.logger, "coordinator.enqueue_outcome", log.RequestID).Warn("outcome buffer full, dropping run log")
	}
}

func (c *Coordinator) recordOutcomes(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.drainOutcomes()
			return nil
		case log := <-c.outcomes:
			c.save(context.Background(), log)
		}
	}
}

func (c *Coordinator) drainOutcomes() {
	for {
		select {
		case log := <-c.outcomes:
			c.save(context.Background(), log)
		default:
			return
		}
	}
}

func (c *Coordinator) save(parent context.Context, log *repository.RunLog) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, c.saveTimeout)
	defer cancel()
	if err := c.journal.SaveRun(ctx, log); err != nil {
		logging.WithOperation(c.logger, "coordinator.save_run", log.RequestID).Error("failed to journal run", zap.Error(err))
	}
}

func toRunLog(out pipeline.Outcome, subject string) *repository.RunLog {
	log := &repository.RunLog{
		RequestID:        out.Request.ID,
		Seq:              out.Request.Seq,
		Subject:          subject,
		Result:           string(out.Result),
		Score:            out.Score,
		TargetWidth:      out.Request.Width,
		TargetHeight:     out.Request.Height,
		FrameWidth:       out.FrameWidth,
		FrameHeight:      out.FrameHeight,
		CaptureLatencyMs: float64(out.CaptureLatency) / float64(time.Millisecond),
		ScoringLatencyMs: float64(out.ScoringLatency) / float64(time.Millisecond),
		CreatedAt:        out.FinishedAt.UTC(),
	}
	if out.Err != nil {
		log.Error = out.Err.Error()
	}
	return log
}
