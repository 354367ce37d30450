package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/expensio/approval-api/internal/dto"
	"github.com/expensio/approval-api/internal/models"
	appErrors "github.com/expensio/approval-api/pkg/errors"
	"github.com/expensio/approval-api/pkg/response"
)

type ruleService interface {
	List(ctx context.Context, filter models.RuleFilter) ([]models.ApprovalRule, *models.Pagination, error)
	Get(ctx context.Context, id, companyID string) (*models.ApprovalRule, error)
	Create(ctx context.Context, companyID string, req dto.CreateRuleRequest, actorID string) (*models.ApprovalRule, error)
	Update(ctx context.Context, id, companyID string, req dto.UpdateRuleRequest, actorID string) (*models.ApprovalRule, error)
}

// RuleHandler exposes approval rule management endpoints.
type RuleHandler struct {
	service ruleService
}

// NewRuleHandler builds a new handler.
func NewRuleHandler(service ruleService) *RuleHandler {
	return &RuleHandler{service: service}
}

// List godoc
// @Summary List approval rules for the caller's company
// @Tags Rules
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Param isActive query bool false "Active filter"
// @Param ruleType query string false "Rule type filter"
// @Success 200 {object} response.Envelope
// @Router /approval-rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.RuleFilter{
		CompanyID: claims.CompanyID,
		RuleType:  models.RuleType(c.Query("ruleType")),
		Page:      parseIntQuery(c, "page", 1),
		PageSize:  parseIntQuery(c, "pageSize", 20),
	}
	if raw := c.Query("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "isActive must be a boolean"))
			return
		}
		filter.IsActive = &active
	}

	rules, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, pagination)
}

// Get godoc
// @Summary Get one approval rule
// @Tags Rules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} response.Envelope
// @Router /approval-rules/{id} [get]
func (h *RuleHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rule, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.CompanyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Create godoc
// @Summary Create an approval rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param payload body dto.CreateRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Router /approval-rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	rule, err := h.service.Create(c.Request.Context(), claims.CompanyID, req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// Update godoc
// @Summary Update an approval rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body dto.UpdateRuleRequest true "Rule payload"
// @Success 200 {object} response.Envelope
// @Router /approval-rules/{id} [put]
func (h *RuleHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rule payload"))
		return
	}
	rule, err := h.service.Update(c.Request.Context(), c.Param("id"), claims.CompanyID, req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
