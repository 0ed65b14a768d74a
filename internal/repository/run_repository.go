package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/ai-radar/internal/logging"
)

// ErrNotFound is returned when no run matches the lookup.
var ErrNotFound = errors.New("repository: run not found")

// RunLog represents one finished capture run.
type RunLog struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	RequestID        string    `gorm:"column:request_id;uniqueIndex;size:64" json:"request_id"`
	Seq              uint64    `gorm:"column:seq" json:"seq"`
	Subject          string    `gorm:"column:subject;size:128" json:"subject"`
	Result           string    `gorm:"column:result;size:32;index" json:"result"`
	Score            int       `gorm:"column:score" json:"score"`
	TargetWidth      int       `gorm:"column:target_width" json:"target_width"`
	TargetHeight     int       `gorm:"column:target_height" json:"target_height"`
	FrameWidth       int       `gorm:"column:frame_width" json:"frame_width"`
	FrameHeight      int       `gorm:"column:frame_height" json:"frame_height"`
	CaptureLatencyMs float64   `gorm:"column:capture_latency_ms" json:"capture_latency_ms"`
	ScoringLatencyMs float64   `gorm:"column:scoring_latency_ms" json:"scoring_latency_ms"`
	Error            string    `gorm:"column:error;type:text" json:"error,omitempty"`
	CreatedAt        time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (RunLog) TableName() string {
	return "run_logs"
}

// MetricsAggregation holds journal-wide aggregates.
type MetricsAggregation struct {
	TotalCount              int64
	CompletedCount          int64
	AverageScore            float64
	AverageCaptureLatencyMs float64
	AverageScoringLatencyMs float64
}

// RunRepository provides persistence APIs for run logs.
type RunRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRunRepository creates a new repository instance.
func NewRunRepository(db *gorm.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:             db,
		logger:         logger.Named("run_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *RunRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&RunLog{})
}

// SaveRun persists a run log entry.
func (r *RunRepository) SaveRun(ctx context.Context, log *RunLog) error {
	return r.executeWithRetry(ctx, "repository.save_run", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the run with the given request id.
func (r *RunRepository) FindByRequestID(ctx context.Context, requestID string) (*RunLog, error) {
	var log RunLog
	err := r.executeWithRetry(ctx, "repository.find_run", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarizes every journaled run.
func (r *RunRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount              int64
		CompletedCount          int64
		AverageScore            float64
		AverageCaptureLatencyMs float64
		AverageScoringLatencyMs float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&RunLog{}).
			Select(`COUNT(*) AS total_count,
				COUNT(*) FILTER (WHERE result = 'completed') AS completed_count,
				COALESCE(AVG(score) FILTER (WHERE result = 'completed'), 0) AS average_score,
				COALESCE(AVG(capture_latency_ms), 0) AS average_capture_latency_ms,
				COALESCE(AVG(scoring_latency_ms) FILTER (WHERE result = 'completed'), 0) AS average_scoring_latency_ms`).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:              row.TotalCount,
		CompletedCount:          row.CompletedCount,
		AverageScore:            row.AverageScore,
		AverageCaptureLatencyMs: row.AverageCaptureLatencyMs,
		AverageScoringLatencyMs: row.AverageScoringLatencyMs,
	}, nil
}

func (r *RunRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewRetryError(operation, requestID, attempt, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opErr := &logging.OperationError{Operation: operation, RequestID: requestID, Attempts: attempt + 1, Err: err}
			r.logger.Error("database operation failed", opErr.Fields()...)
			return opErr
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewRetryError(operation, requestID, r.retryAttempts, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
