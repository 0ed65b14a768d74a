package pipeline

import (
	"errors"
	"time"
)

// State is the stage of the run in flight.
type State int32

const (
	Idle State = iota
	Settling1
	FrameWait
	Settling2
	Extracting
	Scoring
	Reporting
	Error
)

var stateNames = [...]string{
	Idle:       "idle",
	Settling1:  "settling_1",
	FrameWait:  "frame_wait",
	Settling2:  "settling_2",
	Extracting: "extracting",
	Scoring:    "scoring",
	Reporting:  "reporting",
	Error:      "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	// ErrGrantMissing is returned when a trigger arrives without a valid grant.
	// The trigger is a no-op and nothing is shown to the user.
	ErrGrantMissing = errors.New("pipeline: no valid mirror grant")
	// ErrBusy is returned when a trigger arrives while a run is in flight.
	ErrBusy = errors.New("pipeline: run already in progress")
	// ErrStopped is returned when the pipeline loop is not running.
	ErrStopped = errors.New("pipeline: stopped")
	// ErrNoFrame is recorded when the sink had no frame after both settle delays.
	ErrNoFrame = errors.New("pipeline: no frame produced")
)

// Result classifies how a run ended.
type Result string

const (
	// ResultCompleted means a score was reported (possibly Unavailable).
	ResultCompleted Result = "completed"
	// ResultSystemRejected means mirror creation itself faulted.
	ResultSystemRejected Result = "system_rejected"
	// ResultNoFrame means the mirror opened but no usable frame was produced.
	ResultNoFrame Result = "no_frame"
	// ResultAborted means the pipeline stopped mid-run.
	ResultAborted Result = "aborted"
)

// CaptureRequest is created per accepted trigger and dropped when the run ends.
type CaptureRequest struct {
	Seq       uint64
	ID        string
	Width     int
	Height    int
	Density   int
	StartedAt time.Time
}

// Outcome describes a finished run for diagnostics.
type Outcome struct {
	Request        CaptureRequest
	Result         Result
	Score          int
	FrameWidth     int
	FrameHeight    int
	CaptureLatency time.Duration
	ScoringLatency time.Duration
	Err            error
	FinishedAt     time.Time
}
