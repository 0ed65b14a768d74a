// Package mirror owns the display-mirroring grant and the virtual output and
// sink pair used by a single capture run.
package mirror

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidConsent is returned when a consent token fails verification.
	ErrInvalidConsent = errors.New("mirror: invalid consent token")
	// ErrConsentReused is returned when a consent token was already exchanged.
	ErrConsentReused = errors.New("mirror: consent token already used")
	// ErrGrantHeld is returned when a valid grant already exists.
	ErrGrantHeld = errors.New("mirror: grant already held")
	// ErrGrantRevoked is returned when opening a mirror without a valid grant.
	ErrGrantRevoked = errors.New("mirror: grant missing or revoked")
	// ErrMirrorBusy is returned while another mirror output is open.
	ErrMirrorBusy = errors.New("mirror: another mirror output is open")
	// ErrSystemRejected wraps backend failures to create the mirror output.
	ErrSystemRejected = errors.New("mirror: system rejected mirror output")
)

// Metrics describes the physical display being mirrored.
type Metrics struct {
	Width   int
	Height  int
	Density int
}

// Output is a live virtual display bound to a sink.
type Output interface {
	Release() error
}

// Backend is the platform capability that creates mirror outputs.
type Backend interface {
	Metrics() Metrics
	CreateOutput(name string, width, height, density int, sink *Sink) (Output, error)
}

// Session exchanges consent for a grant and opens mirror outputs under it.
type Session struct {
	backend  Backend
	verifier ConsentVerifier
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	grant      *Grant
	usedTokens map[string]struct{}
	open       *Handle
}

// NewSession creates a session over backend.
func NewSession(backend Backend, verifier ConsentVerifier, logger *zap.Logger) *Session {
	return &Session{
		backend:    backend,
		verifier:   verifier,
		logger:     logger.Named("mirror_session"),
		now:        time.Now,
		usedTokens: make(map[string]struct{}),
	}
}

// Metrics returns the current display metrics.
func (s *Session) Metrics() Metrics {
	return s.backend.Metrics()
}

// AcquireGrant exchanges a consent token for a Grant. Each token is accepted
// at most once, and a new grant is only issued once the previous one was revoked.
func (s *Session) AcquireGrant(token string) (*Grant, error) {
	consent, err := s.verifier.VerifyConsent(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConsent, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grant.Valid() {
		return nil, ErrGrantHeld
	}
	if _, used := s.usedTokens[consent.TokenID]; used {
		return nil, ErrConsentReused
	}
	s.usedTokens[consent.TokenID] = struct{}{}
	s.grant = &Grant{consent: consent, grantedAt: s.now()}
	s.logger.Info("mirror grant acquired", zap.String("subject", consent.Subject))
	return s.grant, nil
}

// Revoke withdraws the current grant, if any, and releases an open mirror.
func (s *Session) Revoke() {
	s.mu.Lock()
	grant := s.grant
	open := s.open
	s.mu.Unlock()

	if grant.Valid() {
		grant.Revoke()
		s.logger.Info("mirror grant revoked", zap.String("subject", grant.Subject()))
	}
	if open != nil {
		open.Close()
	}
}

// OpenMirror binds a virtual mirror output of the given size to sink. Only one
// output may be open at a time.
func (s *Session) OpenMirror(grant *Grant, width, height, density int, sink *Sink) (*Handle, error) {
	if !grant.Valid() {
		return nil, ErrGrantRevoked
	}

	s.mu.Lock()
	if s.open != nil {
		s.mu.Unlock()
		return nil, ErrMirrorBusy
	}
	h := &Handle{session: s, sink: sink}
	s.open = h
	s.mu.Unlock()

	out, err := s.createOutput(width, height, density, sink)
	if err != nil {
		s.release(h)
		return nil, fmt.Errorf("%w: %v", ErrSystemRejected, err)
	}
	h.output = out
	return h, nil
}

func (s *Session) createOutput(width, height, density int, sink *Sink) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("backend panicked: %v", r)
		}
	}()
	return s.backend.CreateOutput("RadarScan", width, height, density, sink)
}

func (s *Session) release(h *Handle) {
	s.mu.Lock()
	if s.open == h {
		s.open = nil
	}
	s.mu.Unlock()
}

// Handle is one open mirror output.
type Handle struct {
	session *Session
	sink    *Sink
	output  Output
	once    sync.Once
}

// Sink returns the sink the output renders into.
func (h *Handle) Sink() *Sink {
	return h.sink
}

// Close releases the virtual output and closes its sink, dropping any frame
// not yet pulled. Calling it again is a no-op.
func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.output != nil {
			if err := h.output.Release(); err != nil {
				h.session.logger.Warn("mirror output release failed", zap.Error(err))
			}
		}
		if h.sink != nil {
			h.sink.Close()
		}
		h.session.release(h)
	})
}
