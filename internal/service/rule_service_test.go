package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/expensio/approval-api/internal/dto"
	"github.com/expensio/approval-api/internal/models"
	appErrors "github.com/expensio/approval-api/pkg/errors"
)

type ruleRepoStub struct {
	applicable *models.ApprovalRule
	byID       *models.ApprovalRule
	created    []*models.ApprovalRule
	updated    []*models.ApprovalRule
	findErr    error
	createErr  error
	updateErr  error
}

func (s *ruleRepoStub) FindApplicable(ctx context.Context, companyID string, categoryID *string, amount float64) (*models.ApprovalRule, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.applicable == nil {
		return nil, sql.ErrNoRows
	}
	return s.applicable, nil
}

func (s *ruleRepoStub) FindByID(ctx context.Context, id, companyID string) (*models.ApprovalRule, error) {
	if s.byID == nil {
		return nil, sql.ErrNoRows
	}
	return s.byID, nil
}

func (s *ruleRepoStub) List(ctx context.Context, filter models.RuleFilter) ([]models.ApprovalRule, int, error) {
	return nil, 0, nil
}

func (s *ruleRepoStub) Create(ctx context.Context, rule *models.ApprovalRule) error {
	if s.createErr != nil {
		return s.createErr
	}
	rule.ID = "rule-new"
	s.created = append(s.created, rule)
	return nil
}

func (s *ruleRepoStub) Update(ctx context.Context, rule *models.ApprovalRule) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, rule)
	return nil
}

type directoryStub struct {
	missing []string
	err     error
	queried [][]string
}

func (s *directoryStub) ExistAll(ctx context.Context, userIDs []string) ([]string, error) {
	s.queried = append(s.queried, userIDs)
	return s.missing, s.err
}

type auditStub struct {
	logs []*models.AuditLog
}

func (s *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func validCreateRequest() dto.CreateRuleRequest {
	return dto.CreateRuleRequest{
		Name:     "Travel approvals",
		RuleType: models.RuleTypeSequential,
		Approvers: []dto.RuleStepInput{
			{ApproverID: "mgr-1", StepOrder: 1},
			{ApproverID: "fin-1", StepOrder: 2},
		},
	}
}

func TestRuleServiceCreate(t *testing.T) {
	repo := &ruleRepoStub{}
	directory := &directoryStub{}
	audit := &auditStub{}
	svc := NewRuleService(repo, directory, audit, nil, zap.NewNop())

	rule, err := svc.Create(context.Background(), "co-1", validCreateRequest(), "admin-1")
	require.NoError(t, err)

	assert.Equal(t, "co-1", rule.CompanyID)
	assert.True(t, rule.IsActive)
	require.Len(t, repo.created, 1)
	require.Len(t, directory.queried, 1)
	assert.ElementsMatch(t, []string{"mgr-1", "fin-1"}, directory.queried[0])
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRuleCreate, audit.logs[0].Action)
}

func TestRuleServiceCreatePercentageBounds(t *testing.T) {
	svc := NewRuleService(&ruleRepoStub{}, &directoryStub{}, nil, nil, zap.NewNop())

	req := validCreateRequest()
	req.RuleType = models.RuleTypePercentage
	_, err := svc.Create(context.Background(), "co-1", req, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	pct := 150.0
	req.PercentageRequired = &pct
	_, err = svc.Create(context.Background(), "co-1", req, "admin-1")
	require.Error(t, err)

	pct = 60
	_, err = svc.Create(context.Background(), "co-1", req, "admin-1")
	require.NoError(t, err)
}

func TestRuleServiceCreateSpecificApproverNeedsAutoApprove(t *testing.T) {
	svc := NewRuleService(&ruleRepoStub{}, &directoryStub{}, nil, nil, zap.NewNop())

	req := validCreateRequest()
	req.RuleType = models.RuleTypeSpecificApprover
	_, err := svc.Create(context.Background(), "co-1", req, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req.Approvers[1].IsAutoApprove = true
	_, err = svc.Create(context.Background(), "co-1", req, "admin-1")
	require.NoError(t, err)
}

func TestRuleServiceCreateDuplicateStepOrder(t *testing.T) {
	svc := NewRuleService(&ruleRepoStub{}, &directoryStub{}, nil, nil, zap.NewNop())

	req := validCreateRequest()
	req.Approvers[1].StepOrder = 1
	_, err := svc.Create(context.Background(), "co-1", req, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRuleServiceCreateNoSteps(t *testing.T) {
	svc := NewRuleService(&ruleRepoStub{}, &directoryStub{}, nil, nil, zap.NewNop())

	req := validCreateRequest()
	req.Approvers = nil
	_, err := svc.Create(context.Background(), "co-1", req, "admin-1")
	require.Error(t, err)

	// A manager-approver rule may rely on the submitter's manager alone.
	req.IsManagerApprover = true
	_, err = svc.Create(context.Background(), "co-1", req, "admin-1")
	require.NoError(t, err)
}

func TestRuleServiceCreateUnknownApprover(t *testing.T) {
	directory := &directoryStub{missing: []string{"fin-1"}}
	svc := NewRuleService(&ruleRepoStub{}, directory, nil, nil, zap.NewNop())

	_, err := svc.Create(context.Background(), "co-1", validCreateRequest(), "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRuleServiceCreateAmountBand(t *testing.T) {
	svc := NewRuleService(&ruleRepoStub{}, &directoryStub{}, nil, nil, zap.NewNop())

	req := validCreateRequest()
	low, high := 1000.0, 100.0
	req.MinAmount = &low
	req.MaxAmount = &high
	_, err := svc.Create(context.Background(), "co-1", req, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRuleServiceFindApplicableNoMatch(t *testing.T) {
	svc := NewRuleService(&ruleRepoStub{}, &directoryStub{}, nil, nil, zap.NewNop())

	_, err := svc.FindApplicable(context.Background(), "co-1", nil, 42)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoMatchingRule.Code, appErrors.FromError(err).Code)
}

func TestRuleServiceUpdateReplacesSteps(t *testing.T) {
	repo := &ruleRepoStub{byID: &models.ApprovalRule{
		ID:        "rule-1",
		CompanyID: "co-1",
		Name:      "Old name",
		RuleType:  models.RuleTypeSequential,
		IsActive:  true,
		Steps: []models.RuleStep{
			{StepOrder: 1, ApproverID: "mgr-1"},
		},
	}}
	svc := NewRuleService(repo, &directoryStub{}, nil, nil, zap.NewNop())

	rule, err := svc.Update(context.Background(), "rule-1", "co-1", dto.UpdateRuleRequest{
		Approvers: []dto.RuleStepInput{
			{ApproverID: "fin-1", StepOrder: 1},
			{ApproverID: "cfo-1", StepOrder: 2},
		},
	}, "admin-1")
	require.NoError(t, err)

	require.Len(t, rule.Steps, 2)
	assert.Equal(t, "fin-1", rule.Steps[0].ApproverID)
	require.Len(t, repo.updated, 1)
}

func TestRuleServiceUpdateNotFound(t *testing.T) {
	svc := NewRuleService(&ruleRepoStub{}, &directoryStub{}, nil, nil, zap.NewNop())

	name := "New name"
	_, err := svc.Update(context.Background(), "rule-missing", "co-1", dto.UpdateRuleRequest{Name: &name}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
