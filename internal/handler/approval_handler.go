package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/expensio/approval-api/internal/dto"
	"github.com/expensio/approval-api/internal/models"
	"github.com/expensio/approval-api/internal/service"
	appErrors "github.com/expensio/approval-api/pkg/errors"
	"github.com/expensio/approval-api/pkg/response"
)

type approvalService interface {
	CreateWorkflow(ctx context.Context, req dto.CreateWorkflowRequest) (*models.ExpenseApproval, error)
	Decide(ctx context.Context, actionID, approverID string, decision models.Decision, comments string) (*models.WorkflowOutcome, error)
	GetPendingActions(ctx context.Context, approverID, companyID string) ([]models.PendingActionDetail, error)
	GetHistory(ctx context.Context, expenseID string) ([]models.HistoryEntry, error)
	GetWorkflowByExpense(ctx context.Context, expenseID string) (*models.ExpenseApproval, error)
}

type historyExporter interface {
	Generate(ctx context.Context, expenseID string, format service.ExportFormat) (*service.ExportResult, error)
	ParseToken(token string, allowExpired bool) (expenseID, relPath string, expiresAt time.Time, err error)
	Open(relPath string) (*os.File, error)
}

// ApprovalHandler exposes the workflow engine endpoints.
type ApprovalHandler struct {
	service  approvalService
	exporter historyExporter
}

// NewApprovalHandler builds a new handler. The exporter is optional; export
// endpoints return 404-style errors when it is absent.
func NewApprovalHandler(svc approvalService, exporter historyExporter) *ApprovalHandler {
	return &ApprovalHandler{service: svc, exporter: exporter}
}

// CreateWorkflow godoc
// @Summary Start the approval workflow for a submitted expense
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body dto.CreateWorkflowRequest true "Workflow payload"
// @Success 201 {object} response.Envelope
// @Router /approvals/workflows [post]
func (h *ApprovalHandler) CreateWorkflow(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid workflow payload"))
		return
	}
	req.CompanyID = claims.CompanyID
	if req.UserID == "" {
		req.UserID = claims.UserID
	}

	wf, err := h.service.CreateWorkflow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, wf)
}

// Approve godoc
// @Summary Approve a pending action
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Action ID"
// @Param payload body dto.DecisionRequest false "Optional comments"
// @Success 200 {object} response.Envelope
// @Router /approvals/actions/{id}/approve [post]
func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.decide(c, models.DecisionApprove)
}

// Reject godoc
// @Summary Reject a pending action
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Action ID"
// @Param payload body dto.DecisionRequest true "Comments (required)"
// @Success 200 {object} response.Envelope
// @Router /approvals/actions/{id}/reject [post]
func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.decide(c, models.DecisionReject)
}

func (h *ApprovalHandler) decide(c *gin.Context, decision models.Decision) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
			return
		}
	}

	outcome, err := h.service.Decide(c.Request.Context(), c.Param("id"), claims.UserID, decision, req.Comments)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Pending godoc
// @Summary List the caller's pending approval actions
// @Tags Approvals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /approvals/pending [get]
func (h *ApprovalHandler) Pending(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	items, err := h.service.GetPendingActions(c.Request.Context(), claims.UserID, claims.CompanyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Workflow godoc
// @Summary Get the workflow attached to an expense
// @Tags Approvals
// @Produce json
// @Param expenseId path string true "Expense ID"
// @Success 200 {object} response.Envelope
// @Router /approvals/expenses/{expenseId}/workflow [get]
func (h *ApprovalHandler) Workflow(c *gin.Context) {
	wf, err := h.service.GetWorkflowByExpense(c.Request.Context(), c.Param("expenseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, wf, nil)
}

// History godoc
// @Summary Get the approval trail for an expense
// @Tags Approvals
// @Produce json
// @Param expenseId path string true "Expense ID"
// @Success 200 {object} response.Envelope
// @Router /approvals/expenses/{expenseId}/history [get]
func (h *ApprovalHandler) History(c *gin.Context) {
	entries, err := h.service.GetHistory(c.Request.Context(), c.Param("expenseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ExportHistory godoc
// @Summary Render the approval trail into a downloadable file
// @Tags Approvals
// @Produce json
// @Param expenseId path string true "Expense ID"
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {object} response.Envelope
// @Router /approvals/expenses/{expenseId}/history/export [post]
func (h *ApprovalHandler) ExportHistory(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))
	result, err := h.exporter.Generate(c.Request.Context(), c.Param("expenseId"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"url":        result.URL,
		"format":     result.Format,
		"expires_at": result.ExpiresAt,
	}, nil)
}

// DownloadExport godoc
// @Summary Download a rendered approval trail file
// @Tags Approvals
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Router /approvals/export/{token} [get]
func (h *ApprovalHandler) DownloadExport(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	_, relPath, _, err := h.exporter.ParseToken(c.Param("token"), false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link"))
		return
	}
	file, err := h.exporter.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export no longer available"))
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(relPath)))
	c.DataFromReader(http.StatusOK, stat.Size(), "application/octet-stream", file, nil)
}
