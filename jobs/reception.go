package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-reception/internal/catalog"
	jobmetrics "github.com/odyssey-erp/odyssey-reception/internal/jobs"
	"github.com/odyssey-erp/odyssey-reception/internal/reception"
)

// OrderStatusRetrier re-runs the order status step of a committed reception.
type OrderStatusRetrier interface {
	RetryOrderStatus(ctx context.Context, tenantID, id int64) (reception.CommitResult, error)
}

// OrderStatusJob handles TaskReceptionOrderStatus.
type OrderStatusJob struct {
	Service OrderStatusRetrier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOrderStatusJob initialises the order status handler.
func NewOrderStatusJob(service OrderStatusRetrier, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrderStatusJob {
	return &OrderStatusJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle marks the order received. Failures are returned so asynq retries
// with backoff; a reception that is not committed is never retried.
func (j *OrderStatusJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("order status: handler not configured")
	}
	var payload OrderStatusPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ReceptionID == 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskReceptionOrderStatus)
	defer func() { err = tracker.End(err) }()

	logger := loggerOr(j.Logger).With(slog.Int64("tenant_id", payload.TenantID), slog.Int64("reception_id", payload.ReceptionID))
	result, err := j.Service.RetryOrderStatus(ctx, payload.TenantID, payload.ReceptionID)
	switch {
	case errors.Is(err, reception.ErrNotCommitted), errors.Is(err, reception.ErrNotFound):
		logger.Warn("order status follow-up dropped", slog.Any("error", err))
		return asynq.SkipRetry
	case err != nil:
		logger.Warn("order status follow-up failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskReceptionOrderStatus, string(result.State), 1)
	logger.Info("order status follow-up done", slog.Int64("order_id", result.OrderID))
	return nil
}

// Onboarder creates local products for candidate codes.
type Onboarder interface {
	Onboard(ctx context.Context, tenantID int64, candidates []catalog.Candidate) ([]catalog.OnboardResult, error)
}

// OnboardJob handles TaskCatalogOnboard.
type OnboardJob struct {
	Onboarder Onboarder
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewOnboardJob initialises the onboarding handler.
func NewOnboardJob(onboarder Onboarder, logger *slog.Logger, metrics *jobmetrics.Metrics) *OnboardJob {
	return &OnboardJob{Onboarder: onboarder, Logger: logger, Metrics: metrics}
}

// Handle runs one onboarding batch.
func (j *OnboardJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Onboarder == nil {
		return errors.New("catalog onboard: handler not configured")
	}
	var payload OnboardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TenantID == 0 {
		return asynq.SkipRetry
	}
	if len(payload.Candidates) == 0 {
		return nil
	}
	tracker := j.Metrics.Track(TaskCatalogOnboard)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	results, err := j.Onboarder.Onboard(ctx, payload.TenantID, payload.Candidates)
	if err != nil {
		loggerOr(j.Logger).Error("catalog onboard failed", slog.Int64("tenant_id", payload.TenantID), slog.Any("error", err))
		return err
	}
	counts := map[catalog.Outcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
	}
	for outcome, n := range counts {
		j.Metrics.AddItems(TaskCatalogOnboard, string(outcome), n)
	}
	loggerOr(j.Logger).Info("catalog onboard completed",
		slog.Int64("tenant_id", payload.TenantID),
		slog.Int("codes", len(results)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// KeyCleaner purges idempotency keys older than a retention.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob handles TaskIdempotencyCleanup.
type CleanupJob struct {
	Store   KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCleanupJob initialises the cleanup handler.
func NewCleanupJob(store KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *CleanupJob {
	return &CleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle deletes expired keys.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	deleted, err := j.Store.Cleanup(ctx, payload.Retention())
	if err != nil {
		return err
	}
	j.Metrics.AddItems(TaskIdempotencyCleanup, "deleted", int(deleted))
	loggerOr(j.Logger).Info("idempotency keys purged", slog.Int64("deleted", deleted), slog.Duration("retention", payload.Retention()))
	return nil
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
