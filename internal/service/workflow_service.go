package service

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/expensio/approval-api/internal/dto"
	"github.com/expensio/approval-api/internal/models"
	"github.com/expensio/approval-api/internal/repository"
	appErrors "github.com/expensio/approval-api/pkg/errors"
)

type workflowStore interface {
	InTx(ctx context.Context, fn func(tx repository.WorkflowTx) error) error
	GetWorkflowByExpense(ctx context.Context, expenseID string) (*models.ExpenseApproval, error)
	ListHistory(ctx context.Context, expenseID string) ([]models.HistoryEntry, error)
	ListPendingForApprover(ctx context.Context, approverID, companyID string) ([]models.PendingActionDetail, error)
}

type applicableRuleResolver interface {
	FindApplicable(ctx context.Context, companyID string, categoryID *string, amount float64) (*models.ApprovalRule, error)
}

type expenseReader interface {
	FindByID(ctx context.Context, id string) (*models.Expense, error)
}

type managerDirectory interface {
	FindManager(ctx context.Context, userID string) (*models.User, error)
}

type inboxCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type workflowNotifier interface {
	WorkflowCreated(wf *models.ExpenseApproval, pendingApprovers []string)
	WorkflowFinished(outcome *models.WorkflowOutcome)
}

type workflowMetrics interface {
	RecordWorkflowCreated(ruleType models.RuleType)
	RecordDecision(ruleType models.RuleType, decision models.Decision, status models.WorkflowStatus)
	RecordCacheOperation(hit bool)
}

// WorkflowService is the approval engine: it materializes workflow instances
// from matched rules and evaluates approver decisions against the rule
// type's resolution strategy.
type WorkflowService struct {
	store     workflowStore
	rules     applicableRuleResolver
	expenses  expenseReader
	directory managerDirectory
	audit     auditLogger
	cache     inboxCache
	notifier  workflowNotifier
	metrics   workflowMetrics
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// WorkflowServiceOption configures optional collaborators.
type WorkflowServiceOption func(*WorkflowService)

// WithInboxCache enables the pending-approvals cache.
func WithInboxCache(cache inboxCache, ttl time.Duration) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithWorkflowNotifier wires the fire-and-forget notification dispatcher.
func WithWorkflowNotifier(n workflowNotifier) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.notifier = n
	}
}

// WithWorkflowMetrics wires engine instrumentation.
func WithWorkflowMetrics(m workflowMetrics) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.metrics = m
	}
}

// WithWorkflowAudit wires audit trail writes for decisions.
func WithWorkflowAudit(audit auditLogger) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.audit = audit
	}
}

// NewWorkflowService constructs the engine.
func NewWorkflowService(store workflowStore, rules applicableRuleResolver, expenses expenseReader, directory managerDirectory, validate *validator.Validate, logger *zap.Logger, opts ...WorkflowServiceOption) *WorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &WorkflowService{
		store:     store,
		rules:     rules,
		expenses:  expenses,
		directory: directory,
		cacheTTL:  30 * time.Second,
		validator: validate,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateWorkflow materializes the approval workflow for a submitted expense:
// rule resolution, step construction with optional manager injection, and an
// all-or-nothing insert of the workflow, its pending actions and the expense
// status transition.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, req dto.CreateWorkflowRequest) (*models.ExpenseApproval, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid workflow payload")
	}

	expense, err := s.expenses.FindByID(ctx, req.ExpenseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "expense not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load expense")
	}
	if expense.CompanyID != req.CompanyID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "expense not found")
	}

	if existing, err := s.store.GetWorkflowByExpense(ctx, req.ExpenseID); err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing workflow")
	} else if existing != nil {
		return nil, appErrors.ErrWorkflowExists
	}

	rule, err := s.rules.FindApplicable(ctx, req.CompanyID, expense.CategoryID, expense.Amount)
	if err != nil {
		return nil, err
	}

	steps := make([]models.RuleStep, len(rule.Steps))
	copy(steps, rule.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	if rule.IsManagerApprover {
		manager, err := s.directory.FindManager(ctx, req.UserID)
		if err != nil && err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve manager")
		}
		if manager != nil {
			steps = append([]models.RuleStep{{StepOrder: 0, ApproverID: manager.ID}}, steps...)
		}
	}

	if len(steps) == 0 {
		return nil, appErrors.ErrNoApprovers
	}

	wf := &models.ExpenseApproval{
		ExpenseID:          expense.ID,
		RuleID:             rule.ID,
		CompanyID:          req.CompanyID,
		RuleType:           rule.RuleType,
		PercentageRequired: rule.PercentageRequired,
		TotalSteps:         len(steps),
		CurrentStep:        1,
		Status:             models.WorkflowStatusPending,
		CreatedAt:          time.Now().UTC(),
	}

	actions := make([]models.ApprovalAction, 0, len(steps))
	approvers := make([]string, 0, len(steps))
	for _, step := range steps {
		actions = append(actions, models.ApprovalAction{
			StepOrder:   step.StepOrder,
			ApproverID:  step.ApproverID,
			AutoApprove: step.IsAutoApprove,
			Status:      models.ActionStatusPending,
			CreatedAt:   wf.CreatedAt,
		})
		approvers = append(approvers, step.ApproverID)
	}

	err = s.store.InTx(ctx, func(tx repository.WorkflowTx) error {
		if err := tx.InsertWorkflow(ctx, wf); err != nil {
			return err
		}
		for i := range actions {
			actions[i].WorkflowID = wf.ID
		}
		if err := tx.InsertActions(ctx, actions); err != nil {
			return err
		}
		return tx.SetExpenseStatus(ctx, expense.ID, models.ExpenseStatusPendingApproval)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval workflow")
	}

	s.invalidateInbox(ctx, req.CompanyID)
	if s.metrics != nil {
		s.metrics.RecordWorkflowCreated(rule.RuleType)
	}
	if s.notifier != nil {
		s.notifier.WorkflowCreated(wf, approvers)
	}
	s.emitDecisionAudit(ctx, req.UserID, models.AuditActionWorkflowCreate, wf.ID, nil)

	s.logger.Info("approval workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("expense_id", expense.ID),
		zap.String("rule_id", rule.ID),
		zap.String("rule_type", string(rule.RuleType)),
		zap.Int("total_steps", wf.TotalSteps))

	return wf, nil
}

// Decide applies one approve/reject decision to a pending action and
// resolves the workflow-level consequence under the rule type's strategy.
// The whole read-check-write sequence runs inside one transaction; the claim
// on the action row is the serialization point that makes duplicate or
// racing requests safe.
func (s *WorkflowService) Decide(ctx context.Context, actionID, approverID string, decision models.Decision, comments string) (*models.WorkflowOutcome, error) {
	comments = strings.TrimSpace(comments)
	var status models.ActionStatus
	switch decision {
	case models.DecisionApprove:
		status = models.ActionStatusApproved
	case models.DecisionReject:
		if comments == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "comments are required when rejecting")
		}
		status = models.ActionStatusRejected
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be approve or reject")
	}

	var commentsPtr *string
	if comments != "" {
		commentsPtr = &comments
	}

	outcome := &models.WorkflowOutcome{}
	now := time.Now().UTC()

	err := s.store.InTx(ctx, func(tx repository.WorkflowTx) error {
		wf, err := tx.LockWorkflowByAction(ctx, actionID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "approval action not found")
			}
			return err
		}
		if wf.Status != models.WorkflowStatusPending {
			return appErrors.ErrWorkflowFinalized
		}

		action, err := tx.ClaimAction(ctx, actionID, approverID, status, commentsPtr, now)
		if err != nil {
			if err == sql.ErrNoRows {
				return s.classifyClaimFailure(ctx, tx, actionID, approverID)
			}
			return err
		}

		outcome.Action = action
		outcome.WorkflowID = wf.ID
		outcome.ExpenseID = wf.ExpenseID
		outcome.CompanyID = wf.CompanyID
		outcome.RuleType = wf.RuleType
		outcome.WorkflowStatus = wf.Status

		if status == models.ActionStatusRejected {
			return s.finalize(ctx, tx, wf, outcome, models.WorkflowStatusRejected, now)
		}
		return s.resolveApproval(ctx, tx, wf, action, outcome, now)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateInbox(ctx, outcome.CompanyID)
	if s.metrics != nil {
		s.metrics.RecordDecision(outcome.RuleType, decision, outcome.WorkflowStatus)
	}
	if outcome.Completed && s.notifier != nil {
		s.notifier.WorkflowFinished(outcome)
	}
	auditAction := models.AuditActionApprove
	if decision == models.DecisionReject {
		auditAction = models.AuditActionReject
	}
	s.emitDecisionAudit(ctx, approverID, auditAction, outcome.WorkflowID, commentsPtr)

	s.logger.Info("approval decision applied",
		zap.String("workflow_id", outcome.WorkflowID),
		zap.String("action_id", actionID),
		zap.String("decision", string(decision)),
		zap.String("workflow_status", string(outcome.WorkflowStatus)),
		zap.Bool("advanced", outcome.Advanced))

	return outcome, nil
}

// classifyClaimFailure distinguishes an unknown action from an idempotent
// retry once the compare-and-swap claim matched no row.
func (s *WorkflowService) classifyClaimFailure(ctx context.Context, tx repository.WorkflowTx, actionID, approverID string) error {
	action, err := tx.GetAction(ctx, actionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "approval action not found")
		}
		return err
	}
	if action.ApproverID != approverID {
		return appErrors.Clone(appErrors.ErrForbidden, "approval action belongs to a different approver")
	}
	return appErrors.ErrActionProcessed
}

// resolveApproval applies the rule type's completion condition after one
// approval has been recorded.
func (s *WorkflowService) resolveApproval(ctx context.Context, tx repository.WorkflowTx, wf *models.ExpenseApproval, action *models.ApprovalAction, outcome *models.WorkflowOutcome, now time.Time) error {
	switch wf.RuleType {
	case models.RuleTypeSequential:
		position, err := tx.StepPosition(ctx, wf.ID, action.StepOrder)
		if err != nil {
			return err
		}
		if position != wf.CurrentStep {
			// Recorded, but only the current step gates advancement.
			return nil
		}
		if wf.CurrentStep >= wf.TotalSteps {
			return s.finalize(ctx, tx, wf, outcome, models.WorkflowStatusApproved, now)
		}
		if err := tx.AdvanceWorkflow(ctx, wf.ID, wf.CurrentStep+1); err != nil {
			return err
		}
		outcome.Advanced = true
		return nil

	case models.RuleTypePercentage:
		met, err := s.percentageMet(ctx, tx, wf)
		if err != nil {
			return err
		}
		if met {
			return s.finalize(ctx, tx, wf, outcome, models.WorkflowStatusApproved, now)
		}
		return nil

	case models.RuleTypeSpecificApprover:
		if action.AutoApprove {
			return s.finalize(ctx, tx, wf, outcome, models.WorkflowStatusApproved, now)
		}
		return nil

	case models.RuleTypeHybrid:
		met, err := s.percentageMet(ctx, tx, wf)
		if err != nil {
			return err
		}
		if met || action.AutoApprove {
			return s.finalize(ctx, tx, wf, outcome, models.WorkflowStatusApproved, now)
		}
		return nil
	}

	return appErrors.Clone(appErrors.ErrInternal, "workflow carries an unknown rule type")
}

// percentageMet evaluates approvedCount*100 >= percentageRequired*totalSteps.
// The comparison is cross-multiplied so the ratio itself is never rounded.
func (s *WorkflowService) percentageMet(ctx context.Context, tx repository.WorkflowTx, wf *models.ExpenseApproval) (bool, error) {
	if wf.PercentageRequired == nil || wf.TotalSteps == 0 {
		return false, nil
	}
	approved, err := tx.CountApproved(ctx, wf.ID)
	if err != nil {
		return false, err
	}
	return float64(approved*100) >= *wf.PercentageRequired*float64(wf.TotalSteps), nil
}

func (s *WorkflowService) finalize(ctx context.Context, tx repository.WorkflowTx, wf *models.ExpenseApproval, outcome *models.WorkflowOutcome, status models.WorkflowStatus, now time.Time) error {
	if err := tx.FinishWorkflow(ctx, wf.ID, status, now); err != nil {
		return err
	}
	expenseStatus := models.ExpenseStatusApproved
	if status == models.WorkflowStatusRejected {
		expenseStatus = models.ExpenseStatusRejected
	}
	if err := tx.SetExpenseStatus(ctx, wf.ExpenseID, expenseStatus); err != nil {
		return err
	}
	outcome.WorkflowStatus = status
	outcome.Completed = true
	return nil
}

// GetPendingActions returns the approver's inbox, served from cache when
// fresh.
func (s *WorkflowService) GetPendingActions(ctx context.Context, approverID, companyID string) ([]models.PendingActionDetail, error) {
	key := repository.PendingApprovalsKey(companyID, approverID)
	if s.cache != nil {
		var cached []models.PendingActionDetail
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheOperation(true)
			}
			return cached, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(false)
		}
	}

	details, err := s.store.ListPendingForApprover(ctx, approverID, companyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending approvals")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, details, s.cacheTTL); err != nil {
			s.logger.Warn("pending approvals cache write failed", zap.Error(err))
		}
	}
	return details, nil
}

// GetHistory returns the complete approval trail for an expense, including
// actions still pending.
func (s *WorkflowService) GetHistory(ctx context.Context, expenseID string) ([]models.HistoryEntry, error) {
	entries, err := s.store.ListHistory(ctx, expenseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval history")
	}
	return entries, nil
}

// GetWorkflowByExpense returns the workflow instance attached to an expense.
func (s *WorkflowService) GetWorkflowByExpense(ctx context.Context, expenseID string) (*models.ExpenseApproval, error) {
	wf, err := s.store.GetWorkflowByExpense(ctx, expenseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval workflow not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval workflow")
	}
	return wf, nil
}

func (s *WorkflowService) invalidateInbox(ctx context.Context, companyID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, repository.PendingApprovalsKey(companyID, "*")); err != nil {
		s.logger.Warn("pending approvals cache invalidation failed", zap.Error(err))
	}
}

func (s *WorkflowService) emitDecisionAudit(ctx context.Context, actorID, action, workflowID string, comments *string) {
	if s.audit == nil {
		return
	}
	var payload []byte
	if comments != nil {
		payload = []byte(`{"comments":` + strconv.Quote(*comments) + `}`)
	}
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "expense_approval",
		ResourceID: &workflowID,
		NewValues:  payload,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}
