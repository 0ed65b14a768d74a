// Package status holds the single user-visible status record.
package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoTapHandler is returned by Tap when no re-trigger action is registered.
var ErrNoTapHandler = errors.New("status: no tap action registered")

// Record is what the user currently sees.
type Record struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sink renders published records somewhere outside the process.
type Sink interface {
	Name() string
	Render(ctx context.Context, rec Record) error
}

// Surface is the one overwritable status record of the process. Publish may
// be called from any goroutine; the last writer wins. Sinks are rendered by a
// single background goroutine that only ever sees the newest record.
type Surface struct {
	logger      *zap.Logger
	sinks       []Sink
	sinkTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	record Record
	closed bool

	pending   chan Record
	done      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once

	tapMu sync.RWMutex
	onTap func(ctx context.Context) error
}

// Options configure a Surface.
type Options struct {
	Sinks       []Sink
	SinkTimeout time.Duration
	Clock       func() time.Time
}

// NewSurface creates a surface with an empty record.
func NewSurface(logger *zap.Logger, opts Options) *Surface {
	timeout := opts.SinkTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Surface{
		logger:      logger.Named("status_surface"),
		sinks:       opts.Sinks,
		sinkTimeout: timeout,
		now:         clock,
		pending:     make(chan Record, 1),
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
	}
	go s.render()
	return s
}

// Publish overwrites the record in place and hands it to the sink renderer.
// It never waits on sink I/O; a record not yet rendered is replaced by the
// newer one. Sink failures are logged and never reach the caller.
func (s *Surface) Publish(title, body string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = Record{
		Title:     title,
		Body:      body,
		Version:   s.record.Version + 1,
		UpdatedAt: s.now().UTC(),
	}
	rec := s.record
	if s.closed || len(s.sinks) == 0 {
		return rec
	}

	// Only publishers send, and only under mu, so the slot is free after the drain.
	select {
	case <-s.pending:
	default:
	}
	s.pending <- rec
	return rec
}

// Close renders the last pending record and stops the renderer. Records
// published afterwards only update Current. Idempotent.
func (s *Surface) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
	})
	<-s.done
}

func (s *Surface) render() {
	defer close(s.done)
	for {
		select {
		case rec := <-s.pending:
			s.renderSinks(rec)
		case <-s.stop:
			select {
			case rec := <-s.pending:
				s.renderSinks(rec)
			default:
			}
			return
		}
	}
}

func (s *Surface) renderSinks(rec Record) {
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), s.sinkTimeout)
		if err := sink.Render(ctx, rec); err != nil {
			s.logger.Warn("status sink failed", zap.String("sink", sink.Name()), zap.Uint64("version", rec.Version), zap.Error(err))
		}
		cancel()
	}
}

// Current returns the record last published.
func (s *Surface) Current() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// OnTap registers the single re-trigger action offered to the user.
func (s *Surface) OnTap(fn func(ctx context.Context) error) {
	s.tapMu.Lock()
	s.onTap = fn
	s.tapMu.Unlock()
}

// Tap invokes the registered re-trigger action.
func (s *Surface) Tap(ctx context.Context) error {
	s.tapMu.RLock()
	fn := s.onTap
	s.tapMu.RUnlock()
	if fn == nil {
		return ErrNoTapHandler
	}
	return fn(ctx)
}
