// Package pipeline drives one capture run at a time: open a mirror, wait for
// the compositor to settle, extract a frame, score it and report the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ai-radar/internal/frame"
	"github.com/example/ai-radar/internal/logging"
	"github.com/example/ai-radar/internal/mirror"
	"github.com/example/ai-radar/internal/scoring"
	"github.com/example/ai-radar/internal/status"
)

const (
	// DefaultSettle1 is the wait after the mirror output is created.
	DefaultSettle1 = 100 * time.Millisecond
	// DefaultSettle2 is the wait before the frame is pulled from the sink.
	DefaultSettle2 = 400 * time.Millisecond
)

// Mirror opens mirror outputs under a grant. *mirror.Session implements it.
type Mirror interface {
	Metrics() mirror.Metrics
	OpenMirror(grant *mirror.Grant, width, height, density int, sink *mirror.Sink) (*mirror.Handle, error)
}

// Scorer maps a frame to a score. It must be safe to call off the loop goroutine.
type Scorer interface {
	Score(ctx context.Context, buf *frame.Buffer) scoring.Score
}

// Publisher overwrites the user-visible status.
type Publisher interface {
	Publish(title, body string) status.Record
}

// Options configure a Pipeline.
type Options struct {
	Settle1  time.Duration
	Settle2  time.Duration
	Clock    Clock
	Messages status.Messages
	// OnComplete is called on the loop goroutine after every run. It must not block.
	OnComplete func(Outcome)
}

type step int

const (
	stepSettle1 step = iota + 1
	stepSettle2
)

type triggerEvent struct {
	grant *mirror.Grant
	reply chan error
}

type timerEvent struct {
	seq  uint64
	step step
}

type scoreEvent struct {
	seq     uint64
	score   scoring.Score
	latency time.Duration
}

// run is the loop-owned state of the request in flight.
type run struct {
	req        CaptureRequest
	grant      *mirror.Grant
	sink       *mirror.Sink
	handle     *mirror.Handle
	timer      Timer
	capturedAt time.Time
	frameW     int
	frameH     int
}

// Pipeline is the capture state machine. All state changes happen on the
// goroutine running Run; other goroutines talk to it through events.
type Pipeline struct {
	mirror     Mirror
	scorer     Scorer
	status     Publisher
	logger     *zap.Logger
	clock      Clock
	messages   status.Messages
	settle1    time.Duration
	settle2    time.Duration
	onComplete func(Outcome)

	events  chan interface{}
	done    chan struct{}
	running atomic.Bool
	state   atomic.Int32

	// owned by the loop goroutine
	seq     uint64
	current *run
}

// New creates a pipeline. Call Run to start processing triggers.
func New(m Mirror, scorer Scorer, publisher Publisher, logger *zap.Logger, opts Options) *Pipeline {
	if opts.Settle1 <= 0 {
		opts.Settle1 = DefaultSettle1
	}
	if opts.Settle2 <= 0 {
		opts.Settle2 = DefaultSettle2
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Messages == (status.Messages{}) {
		opts.Messages = status.Turkish
	}
	return &Pipeline{
		mirror:     m,
		scorer:     scorer,
		status:     publisher,
		logger:     logger.Named("capture_pipeline"),
		clock:      opts.Clock,
		messages:   opts.Messages,
		settle1:    opts.Settle1,
		settle2:    opts.Settle2,
		onComplete: opts.OnComplete,
		events:     make(chan interface{}),
		done:       make(chan struct{}),
	}
}

// State returns the current stage.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Trigger asks for a run under grant. It returns ErrGrantMissing when the
// grant is nil or revoked and ErrBusy while another run is in flight. A nil
// error means the run was accepted; its result is reported through the status.
func (p *Pipeline) Trigger(ctx context.Context, grant *mirror.Grant) error {
	if !grant.Valid() {
		return ErrGrantMissing
	}
	ev := triggerEvent{grant: grant, reply: make(chan error, 1)}
	select {
	case p.events <- ev:
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.reply:
		return err
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled. Resources of a run still in
// flight are released before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline: already running")
	}
	defer close(p.done)
	defer p.abort(ErrStopped)

	p.logger.Info("capture pipeline started",
		zap.Duration("settle_1", p.settle1),
		zap.Duration("settle_2", p.settle2))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("capture pipeline stopping")
			return nil
		case ev := <-p.events:
			p.dispatch(ctx, ev)
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, ev interface{}) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("capture pipeline step panicked", zap.Any("panic", r))
			if p.current != nil {
				p.fail(ResultNoFrame, p.messages.CaptureFailedBody, fmt.Errorf("step panicked: %v", r))
			}
		}
	}()

	switch ev := ev.(type) {
	case triggerEvent:
		var err error
		defer func() { ev.reply <- err }()
		err = p.handleTrigger(ctx, ev.grant)
	case timerEvent:
		p.handleTimer(ctx, ev)
	case scoreEvent:
		p.handleScore(ev)
	}
}

func (p *Pipeline) handleTrigger(ctx context.Context, grant *mirror.Grant) error {
	if !grant.Valid() {
		return ErrGrantMissing
	}
	if p.current != nil {
		return ErrBusy
	}

	p.seq++
	metrics := p.mirror.Metrics()
	req := CaptureRequest{
		Seq:       p.seq,
		ID:        uuid.NewString(),
		Width:     metrics.Width / 2,
		Height:    metrics.Height / 2,
		Density:   metrics.Density,
		StartedAt: p.clock.Now(),
	}
	r := &run{req: req, grant: grant}
	p.current = r
	opLogger := logging.WithOperation(p.logger, "pipeline.open_mirror", req.ID)

	p.setState(Settling1)
	p.status.Publish(p.messages.CapturingTitle, p.messages.CapturingBody)

	r.sink = mirror.NewSink(req.Width, req.Height)
	handle, err := p.openMirror(grant, req, r.sink)
	if err != nil {
		opLogger.Warn("mirror output rejected", zap.Error(err))
		p.fail(ResultSystemRejected, p.messages.SystemDeniedBody, err)
		return nil
	}
	r.handle = handle
	opLogger.Debug("mirror output open",
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
		zap.Int("density", req.Density))
	r.timer = p.schedule(p.settle1, timerEvent{seq: req.Seq, step: stepSettle1})
	return nil
}

func (p *Pipeline) openMirror(grant *mirror.Grant, req CaptureRequest, sink *mirror.Sink) (h *mirror.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%w: %v", mirror.ErrSystemRejected, r)
		}
	}()
	return p.mirror.OpenMirror(grant, req.Width, req.Height, req.Density, sink)
}

func (p *Pipeline) handleTimer(ctx context.Context, ev timerEvent) {
	r := p.current
	if r == nil || ev.seq != r.req.Seq {
		p.logger.Debug("discarding stale timer", zap.Uint64("seq", ev.seq))
		return
	}
	if !r.grant.Valid() {
		p.abort(mirror.ErrGrantRevoked)
		return
	}
	switch {
	case ev.step == stepSettle1 && p.State() == Settling1:
		p.setState(FrameWait)
		p.setState(Settling2)
		r.timer = p.schedule(p.settle2, timerEvent{seq: r.req.Seq, step: stepSettle2})
	case ev.step == stepSettle2 && p.State() == Settling2:
		r.timer = nil
		p.setState(Extracting)
		p.extract(ctx, r)
	default:
		p.logger.Debug("discarding out-of-order timer", zap.Uint64("seq", ev.seq), zap.Stringer("state", p.State()))
	}
}

func (p *Pipeline) extract(ctx context.Context, r *run) {
	buf, err := p.extractFrame(r)
	if err != nil {
		logging.WithOperation(p.logger, "pipeline.extract", r.req.ID).Warn("frame extraction failed", zap.Error(err))
		p.fail(ResultNoFrame, p.messages.CaptureFailedBody, err)
		return
	}

	r.capturedAt = p.clock.Now()
	r.frameW, r.frameH = buf.Width, buf.Height
	p.setState(Scoring)

	seq := r.req.Seq
	go func() {
		start := p.clock.Now()
		score := p.scoreSafely(ctx, buf)
		p.post(scoreEvent{seq: seq, score: score, latency: p.clock.Now().Sub(start)})
	}()
}

// extractFrame pulls the latest image and copies it out. The image, the
// output and the sink are released before it returns, on every path.
func (p *Pipeline) extractFrame(r *run) (buf *frame.Buffer, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			buf, err = nil, fmt.Errorf("extract panicked: %v", rec)
		}
	}()
	defer p.release(r)

	img, err := r.sink.AcquireLatest()
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, ErrNoFrame
	}
	defer img.Close()
	return frame.Extract(img.Plane, r.req.Width, r.req.Height)
}

func (p *Pipeline) scoreSafely(ctx context.Context, buf *frame.Buffer) (score scoring.Score) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("scorer panicked", zap.Any("panic", r))
			score = scoring.Unavailable
		}
	}()
	return p.scorer.Score(ctx, buf)
}

func (p *Pipeline) handleScore(ev scoreEvent) {
	r := p.current
	if r == nil || ev.seq != r.req.Seq || p.State() != Scoring {
		p.logger.Debug("discarding stale score", zap.Uint64("seq", ev.seq))
		return
	}
	if !r.grant.Valid() {
		p.abort(mirror.ErrGrantRevoked)
		return
	}

	p.setState(Reporting)
	p.status.Publish(p.messages.DoneTitle, p.messages.DoneBody(int(ev.score)))
	p.finish(Outcome{
		Request:        r.req,
		Result:         ResultCompleted,
		Score:          int(ev.score),
		FrameWidth:     r.frameW,
		FrameHeight:    r.frameH,
		CaptureLatency: r.capturedAt.Sub(r.req.StartedAt),
		ScoringLatency: ev.latency,
	})
}

// fail releases the run's resources, publishes body as an error status and
// returns to Idle.
func (p *Pipeline) fail(result Result, body string, err error) {
	r := p.current
	p.setState(Error)
	p.release(r)
	p.status.Publish(p.messages.ErrorTitle, body)
	p.finish(Outcome{
		Request:        r.req,
		Result:         result,
		CaptureLatency: p.clock.Now().Sub(r.req.StartedAt),
		Err:            err,
	})
}

func (p *Pipeline) finish(out Outcome) {
	out.FinishedAt = p.clock.Now()
	p.current = nil
	p.setState(Idle)
	p.logger.Info("capture run finished",
		zap.String("request_id", out.Request.ID),
		zap.Uint64("seq", out.Request.Seq),
		zap.String("result", string(out.Result)),
		zap.Int("score", out.Score),
		zap.Duration("capture_latency", out.CaptureLatency),
		zap.Duration("scoring_latency", out.ScoringLatency),
		zap.Error(out.Err))
	if p.onComplete != nil {
		p.onComplete(out)
	}
}

// abort releases whatever the run in flight still holds.
// abort ends the current run without publishing, leaving whatever status
// the user sees in place.
func (p *Pipeline) abort(cause error) {
	r := p.current
	if r == nil {
		return
	}
	p.release(r)
	p.finish(Outcome{
		Request: r.req,
		Result:  ResultAborted,
		Err:     cause,
	})
}

func (p *Pipeline) release(r *run) {
	if r == nil {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.handle != nil {
		r.handle.Close()
		r.handle = nil
	}
	if r.sink != nil {
		r.sink.Close()
		r.sink = nil
	}
}

func (p *Pipeline) schedule(d time.Duration, ev timerEvent) Timer {
	return p.clock.AfterFunc(d, func() { p.post(ev) })
}

func (p *Pipeline) post(ev interface{}) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}
