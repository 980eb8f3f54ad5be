package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-pos/meridian-pos/internal/jobs"
	"github.com/meridian-pos/meridian-pos/internal/sequence"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const defaultWarnRemaining = 50

// SerialSource is the slice of the sequence allocator the watch needs.
type SerialSource interface {
	ActiveBook(ctx context.Context) (sequence.SerialBook, error)
}

// SerialWatchJob warns operators before the active serial book runs dry,
// so a replacement can be registered and activated in time.
type SerialWatchJob struct {
	Source  SerialSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSerialWatchJob initialises the depletion watch handler.
func NewSerialWatchJob(source SerialSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *SerialWatchJob {
	return &SerialWatchJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle executes the depletion watch.
func (j *SerialWatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("serial watch: handler not configured")
	}
	var payload SerialWatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WarnRemaining <= 0 {
		payload.WarnRemaining = defaultWarnRemaining
	}

	tracker := j.metrics().Track(TaskSerialWatch)
	var resultErr error
	defer func() {
		tracker.End(resultErr)
	}()

	logger := j.logger()
	book, err := j.Source.ActiveBook(ctx)
	if errors.Is(err, sequence.ErrNoActiveSerialBook) {
		// No active book blocks serial allocation entirely.
		logger.Error("no active serial book")
		j.metrics().SetSerialRemaining(0)
		return nil
	}
	if err != nil {
		resultErr = err
		logger.Error("load active book", slog.Any("error", err))
		return resultErr
	}

	remaining := book.Remaining()
	j.metrics().SetSerialRemaining(remaining)
	if remaining <= payload.WarnRemaining {
		logger.Warn("active serial book nearly depleted",
			slog.Int64("book_id", book.ID),
			slog.String("current", book.CurrentSerial),
			slog.String("end", book.SerialEnd),
			slog.Int64("remaining", remaining),
		)
		return nil
	}
	logger.Info("serial book capacity ok",
		slog.Int64("book_id", book.ID),
		slog.Int64("remaining", remaining),
	)
	return nil
}

func (j *SerialWatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSerialWatch))
	}
	return slog.Default().With(slog.String("job", TaskSerialWatch))
}

func (j *SerialWatchJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
