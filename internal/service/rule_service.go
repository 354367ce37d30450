package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/expensio/approval-api/internal/dto"
	"github.com/expensio/approval-api/internal/models"
	appErrors "github.com/expensio/approval-api/pkg/errors"
)

type ruleRepository interface {
	FindApplicable(ctx context.Context, companyID string, categoryID *string, amount float64) (*models.ApprovalRule, error)
	FindByID(ctx context.Context, id, companyID string) (*models.ApprovalRule, error)
	List(ctx context.Context, filter models.RuleFilter) ([]models.ApprovalRule, int, error)
	Create(ctx context.Context, rule *models.ApprovalRule) error
	Update(ctx context.Context, rule *models.ApprovalRule) error
}

type approverDirectory interface {
	ExistAll(ctx context.Context, userIDs []string) ([]string, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RuleService owns the approval policy catalog: applicable-rule resolution
// for the engine and administrator CRUD with configuration validation.
type RuleService struct {
	repo      ruleRepository
	directory approverDirectory
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRuleService constructs RuleService.
func NewRuleService(repo ruleRepository, directory approverDirectory, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *RuleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{repo: repo, directory: directory, audit: audit, validator: validate, logger: logger}
}

// FindApplicable resolves the single governing rule for an expense. An empty
// candidate set is a hard failure: an expense cannot be left without a
// policy.
func (s *RuleService) FindApplicable(ctx context.Context, companyID string, categoryID *string, amount float64) (*models.ApprovalRule, error) {
	rule, err := s.repo.FindApplicable(ctx, companyID, categoryID, amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNoMatchingRule
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve approval rule")
	}
	return rule, nil
}

// List returns rules for a company with pagination metadata.
func (s *RuleService) List(ctx context.Context, filter models.RuleFilter) ([]models.ApprovalRule, *models.Pagination, error) {
	rules, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approval rules")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return rules, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads one rule.
func (s *RuleService) Get(ctx context.Context, id, companyID string) (*models.ApprovalRule, error) {
	rule, err := s.repo.FindByID(ctx, id, companyID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval rule")
	}
	return rule, nil
}

// Create validates and persists a new rule with its step templates.
func (s *RuleService) Create(ctx context.Context, companyID string, req dto.CreateRuleRequest, actorID string) (*models.ApprovalRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rule payload")
	}

	rule := &models.ApprovalRule{
		CompanyID:          companyID,
		Name:               strings.TrimSpace(req.Name),
		Description:        req.Description,
		CategoryID:         req.CategoryID,
		MinAmount:          req.MinAmount,
		MaxAmount:          req.MaxAmount,
		RuleType:           req.RuleType,
		IsManagerApprover:  req.IsManagerApprover,
		PercentageRequired: req.PercentageRequired,
		Priority:           req.Priority,
		IsActive:           true,
		Steps:              stepsFromInput(req.Approvers),
	}
	if err := s.validateRuleConfig(ctx, rule); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval rule")
	}
	s.emitAudit(ctx, actorID, models.AuditActionRuleCreate, rule)
	return rule, nil
}

// Update applies partial changes to a rule, revalidating the resulting
// configuration. In-flight workflows keep their creation-time snapshot.
func (s *RuleService) Update(ctx context.Context, id, companyID string, req dto.UpdateRuleRequest, actorID string) (*models.ApprovalRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rule payload")
	}
	rule, err := s.repo.FindByID(ctx, id, companyID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval rule")
	}

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = req.Description
	}
	if req.CategoryID != nil {
		rule.CategoryID = req.CategoryID
	}
	if req.MinAmount != nil {
		rule.MinAmount = req.MinAmount
	}
	if req.MaxAmount != nil {
		rule.MaxAmount = req.MaxAmount
	}
	if req.RuleType != nil {
		rule.RuleType = *req.RuleType
	}
	if req.IsManagerApprover != nil {
		rule.IsManagerApprover = *req.IsManagerApprover
	}
	if req.PercentageRequired != nil {
		rule.PercentageRequired = req.PercentageRequired
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Approvers != nil {
		rule.Steps = stepsFromInput(req.Approvers)
	}

	if err := s.validateRuleConfig(ctx, rule); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, rule); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update approval rule")
	}
	s.emitAudit(ctx, actorID, models.AuditActionRuleUpdate, rule)
	return rule, nil
}

// validateRuleConfig enforces the configuration invariants that cannot be
// checked at decision time. In particular a specific_approver rule without an
// auto-approve step could never complete, so it is rejected here.
func (s *RuleService) validateRuleConfig(ctx context.Context, rule *models.ApprovalRule) error {
	if !rule.RuleType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown rule type %q", rule.RuleType))
	}
	if rule.MinAmount != nil && rule.MaxAmount != nil && *rule.MinAmount > *rule.MaxAmount {
		return appErrors.Clone(appErrors.ErrValidation, "min_amount exceeds max_amount")
	}

	switch rule.RuleType {
	case models.RuleTypePercentage, models.RuleTypeHybrid:
		if rule.PercentageRequired == nil || *rule.PercentageRequired <= 0 || *rule.PercentageRequired > 100 {
			return appErrors.Clone(appErrors.ErrValidation, "percentage_required must be in (0, 100]")
		}
	}

	if len(rule.Steps) == 0 && !rule.IsManagerApprover {
		return appErrors.Clone(appErrors.ErrValidation, "rule requires at least one approver step")
	}

	sort.SliceStable(rule.Steps, func(i, j int) bool { return rule.Steps[i].StepOrder < rule.Steps[j].StepOrder })
	seen := make(map[int]bool, len(rule.Steps))
	hasAutoApprove := false
	approverIDs := make([]string, 0, len(rule.Steps))
	for _, step := range rule.Steps {
		if step.StepOrder < 1 {
			return appErrors.Clone(appErrors.ErrValidation, "step orders must start at 1")
		}
		if seen[step.StepOrder] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate step order %d", step.StepOrder))
		}
		seen[step.StepOrder] = true
		if step.IsAutoApprove {
			hasAutoApprove = true
		}
		approverIDs = append(approverIDs, step.ApproverID)
	}

	if rule.RuleType == models.RuleTypeSpecificApprover && !hasAutoApprove {
		return appErrors.Clone(appErrors.ErrValidation, "specific_approver rules require at least one auto-approve step")
	}

	if len(approverIDs) > 0 {
		missing, err := s.directory.ExistAll(ctx, approverIDs)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify approvers")
		}
		if len(missing) > 0 {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown or inactive approvers: %s", strings.Join(missing, ", ")))
		}
	}
	return nil
}

func (s *RuleService) emitAudit(ctx context.Context, actorID, action string, rule *models.ApprovalRule) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(rule)
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "approval_rule",
		ResourceID: &rule.ID,
		NewValues:  payload,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func stepsFromInput(inputs []dto.RuleStepInput) []models.RuleStep {
	steps := make([]models.RuleStep, 0, len(inputs))
	for _, in := range inputs {
		steps = append(steps, models.RuleStep{
			StepOrder:     in.StepOrder,
			ApproverID:    in.ApproverID,
			IsAutoApprove: in.IsAutoApprove,
		})
	}
	return steps
}
