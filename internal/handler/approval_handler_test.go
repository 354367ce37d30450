package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensio/approval-api/internal/dto"
	"github.com/expensio/approval-api/internal/middleware"
	"github.com/expensio/approval-api/internal/models"
	"github.com/expensio/approval-api/internal/service"
	appErrors "github.com/expensio/approval-api/pkg/errors"
)

type approvalServiceMock struct {
	createResp   *models.ExpenseApproval
	createErr    error
	decideResp   *models.WorkflowOutcome
	decideErr    error
	pendingResp  []models.PendingActionDetail
	pendingErr   error
	lastCreate   dto.CreateWorkflowRequest
	lastActionID string
	lastApprover string
	lastDecision models.Decision
	lastComments string
}

func (m *approvalServiceMock) CreateWorkflow(_ context.Context, req dto.CreateWorkflowRequest) (*models.ExpenseApproval, error) {
	m.lastCreate = req
	return m.createResp, m.createErr
}

func (m *approvalServiceMock) Decide(_ context.Context, actionID, approverID string, decision models.Decision, comments string) (*models.WorkflowOutcome, error) {
	m.lastActionID = actionID
	m.lastApprover = approverID
	m.lastDecision = decision
	m.lastComments = comments
	return m.decideResp, m.decideErr
}

func (m *approvalServiceMock) GetPendingActions(_ context.Context, _, _ string) ([]models.PendingActionDetail, error) {
	return m.pendingResp, m.pendingErr
}

func (m *approvalServiceMock) GetHistory(_ context.Context, _ string) ([]models.HistoryEntry, error) {
	return nil, nil
}

func (m *approvalServiceMock) GetWorkflowByExpense(_ context.Context, _ string) (*models.ExpenseApproval, error) {
	return nil, appErrors.ErrNotFound
}

type exporterMock struct {
	result    *service.ExportResult
	genErr    error
	parseErr  error
	relPath   string
	lastToken string
}

func (m *exporterMock) Generate(_ context.Context, _ string, _ service.ExportFormat) (*service.ExportResult, error) {
	return m.result, m.genErr
}

func (m *exporterMock) ParseToken(token string, _ bool) (string, string, time.Time, error) {
	m.lastToken = token
	if m.parseErr != nil {
		return "", "", time.Time{}, m.parseErr
	}
	return "exp-1", m.relPath, time.Now().Add(time.Hour), nil
}

func (m *exporterMock) Open(relPath string) (*os.File, error) {
	return os.Open(relPath)
}

func approverClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "mgr-1", CompanyID: "co-1", Role: models.RoleManager}
}

func TestApprovalHandlerCreateWorkflowScopesCompany(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &approvalServiceMock{createResp: &models.ExpenseApproval{ID: "wf-1", ExpenseID: "exp-1"}}
	h := NewApprovalHandler(mockSvc, nil)

	body, _ := json.Marshal(dto.CreateWorkflowRequest{ExpenseID: "exp-1", CompanyID: "co-evil"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/approvals/workflows", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, approverClaims())

	h.CreateWorkflow(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "co-1", mockSvc.lastCreate.CompanyID)
	assert.Equal(t, "mgr-1", mockSvc.lastCreate.UserID)
}

func TestApprovalHandlerCreateWorkflowRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewApprovalHandler(&approvalServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/approvals/workflows", bytes.NewBufferString(`{}`))
	c.Request = req

	h.CreateWorkflow(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApprovalHandlerApproveWithoutBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &approvalServiceMock{decideResp: &models.WorkflowOutcome{WorkflowID: "wf-1"}}
	h := NewApprovalHandler(mockSvc, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/approvals/actions/act-1/approve", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "act-1"}}
	c.Set(middleware.ContextUserKey, approverClaims())

	h.Approve(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "act-1", mockSvc.lastActionID)
	assert.Equal(t, "mgr-1", mockSvc.lastApprover)
	assert.Equal(t, models.DecisionApprove, mockSvc.lastDecision)
	assert.Empty(t, mockSvc.lastComments)
}

func TestApprovalHandlerRejectPassesComments(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &approvalServiceMock{decideResp: &models.WorkflowOutcome{WorkflowID: "wf-1"}}
	h := NewApprovalHandler(mockSvc, nil)

	body := bytes.NewBufferString(`{"comments":"missing receipt"}`)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/approvals/actions/act-1/reject", body)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "act-1"}}
	c.Set(middleware.ContextUserKey, approverClaims())

	h.Reject(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.DecisionReject, mockSvc.lastDecision)
	assert.Equal(t, "missing receipt", mockSvc.lastComments)
}

func TestApprovalHandlerDecideServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &approvalServiceMock{decideErr: appErrors.ErrActionProcessed}
	h := NewApprovalHandler(mockSvc, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/approvals/actions/act-1/approve", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "act-1"}}
	c.Set(middleware.ContextUserKey, approverClaims())

	h.Approve(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestApprovalHandlerPending(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &approvalServiceMock{
		pendingResp: []models.PendingActionDetail{{ExpenseID: "exp-1", ExpenseTitle: "Client dinner"}},
	}
	h := NewApprovalHandler(mockSvc, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/approvals/pending", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, approverClaims())

	h.Pending(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Client dinner")
}

func TestApprovalHandlerExportDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewApprovalHandler(&approvalServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/approvals/expenses/exp-1/history/export", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "expenseId", Value: "exp-1"}}
	c.Set(middleware.ContextUserKey, approverClaims())

	h.ExportHistory(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestApprovalHandlerExportHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exp := &exporterMock{result: &service.ExportResult{
		URL:       "/api/v1/approvals/export/tok123",
		Format:    service.ExportFormatCSV,
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	h := NewApprovalHandler(&approvalServiceMock{}, exp)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/approvals/expenses/exp-1/history/export?format=csv", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "expenseId", Value: "exp-1"}}
	c.Set(middleware.ContextUserKey, approverClaims())

	h.ExportHistory(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tok123")
}

func TestApprovalHandlerDownloadInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exp := &exporterMock{parseErr: appErrors.ErrUnauthorized}
	h := NewApprovalHandler(&approvalServiceMock{}, exp)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/approvals/export/bad-token", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: "bad-token"}}

	h.DownloadExport(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "bad-token", exp.lastToken)
}

func TestApprovalHandlerDownloadStreamsFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	path := dir + "/report.csv"
	require.NoError(t, os.WriteFile(path, []byte("Step,Approver\n1,Ada\n"), 0o600))

	exp := &exporterMock{relPath: path}
	h := NewApprovalHandler(&approvalServiceMock{}, exp)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/approvals/export/tok123", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: "tok123"}}

	h.DownloadExport(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "report.csv")
	assert.Contains(t, w.Body.String(), "Ada")
}
