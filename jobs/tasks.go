package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-reception/internal/catalog"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries follow-ups of committed receptions.
	QueueCritical = "critical"

	// TaskReceptionOrderStatus retries marking the order of a committed reception received.
	TaskReceptionOrderStatus = "reception:order-status"
	// TaskCatalogOnboard creates local products for unresolved codes.
	TaskCatalogOnboard = "catalog:onboard"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// OrderStatusPayload identifies the reception to follow up.
type OrderStatusPayload struct {
	TenantID    int64 `json:"tenant_id"`
	ReceptionID int64 `json:"reception_id"`
}

// NewOrderStatusTask builds the order status retry task. The task id makes a
// second enqueue for the same reception a no-op while one is pending.
func NewOrderStatusTask(payload OrderStatusPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceptionOrderStatus, body,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.TaskID(orderStatusTaskID(payload)),
	), nil
}

// OnboardPayload carries the codes to onboard for a tenant.
type OnboardPayload struct {
	TenantID   int64               `json:"tenant_id"`
	Candidates []catalog.Candidate `json:"candidates"`
}

// NewOnboardTask builds an asynchronous onboarding task.
func NewOnboardTask(payload OnboardPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogOnboard, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// CleanupPayload configures idempotency key retention.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention returns the configured retention, defaulting to 30 days.
func (p CleanupPayload) Retention() time.Duration {
	if p.RetentionHours <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewCleanupTask builds the idempotency cleanup task.
func NewCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
