package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/expensio/approval-api/internal/models"
	"github.com/expensio/approval-api/pkg/config"
	"github.com/expensio/approval-api/pkg/jobs"
)

const (
	jobTypeWorkflowCreated  = "workflow.created"
	jobTypeWorkflowFinished = "workflow.finished"
)

// notificationEvent is the payload posted to the configured webhook.
type notificationEvent struct {
	Event      string                 `json:"event"`
	WorkflowID string                 `json:"workflow_id"`
	ExpenseID  string                 `json:"expense_id"`
	CompanyID  string                 `json:"company_id"`
	Status     string                 `json:"status"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NotificationService pushes workflow lifecycle events to an external
// webhook through a background queue. Delivery is best effort: failures are
// retried by the queue and then dropped with a log line, never surfaced to
// the request that produced the event.
type NotificationService struct {
	queue   *jobs.Queue
	client  *http.Client
	url     string
	enabled bool
	logger  *zap.Logger
}

// NewNotificationService builds the dispatcher. When cfg.Enabled is false or
// no webhook URL is set, the service is inert and all hooks are no-ops.
func NewNotificationService(cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		client:  &http.Client{Timeout: cfg.Timeout},
		url:     cfg.WebhookURL,
		enabled: cfg.Enabled && cfg.WebhookURL != "",
		logger:  logger,
	}
	if svc.enabled {
		svc.queue = jobs.NewQueue("notifications", svc.deliver, jobs.QueueConfig{
			Workers:    cfg.Workers,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Logger:     logger,
		})
	}
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s.queue != nil {
		s.queue.Start(ctx)
	}
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// WorkflowCreated announces a freshly materialized workflow to the webhook.
func (s *NotificationService) WorkflowCreated(wf *models.ExpenseApproval, pendingApprovers []string) {
	if !s.enabled || wf == nil {
		return
	}
	s.enqueue(jobTypeWorkflowCreated, notificationEvent{
		Event:      jobTypeWorkflowCreated,
		WorkflowID: wf.ID,
		ExpenseID:  wf.ExpenseID,
		CompanyID:  wf.CompanyID,
		Status:     string(wf.Status),
		Detail: map[string]interface{}{
			"rule_id":     wf.RuleID,
			"rule_type":   string(wf.RuleType),
			"total_steps": wf.TotalSteps,
			"approvers":   pendingApprovers,
		},
		OccurredAt: time.Now().UTC(),
	})
}

// WorkflowFinished announces a terminal decision.
func (s *NotificationService) WorkflowFinished(outcome *models.WorkflowOutcome) {
	if !s.enabled || outcome == nil {
		return
	}
	s.enqueue(jobTypeWorkflowFinished, notificationEvent{
		Event:      jobTypeWorkflowFinished,
		WorkflowID: outcome.WorkflowID,
		ExpenseID:  outcome.ExpenseID,
		CompanyID:  outcome.CompanyID,
		Status:     string(outcome.WorkflowStatus),
		Detail: map[string]interface{}{
			"rule_type": string(outcome.RuleType),
		},
		OccurredAt: time.Now().UTC(),
	})
}

func (s *NotificationService) enqueue(jobType string, event notificationEvent) {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: event,
	})
	if err != nil {
		s.logger.Warn("notification enqueue failed", zap.String("type", jobType), zap.Error(err))
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	body, err := json.Marshal(job.Payload)
	if err != nil {
		s.logger.Error("notification payload not serializable", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
