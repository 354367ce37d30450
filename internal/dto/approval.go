package dto

import "github.com/expensio/approval-api/internal/models"

// RuleStepInput declares one approver slot when creating or updating a rule.
type RuleStepInput struct {
	ApproverID    string `json:"approver_id" validate:"required"`
	StepOrder     int    `json:"step_order" validate:"required,min=1"`
	IsAutoApprove bool   `json:"is_auto_approve"`
}

// CreateRuleRequest is the payload for creating an approval rule.
type CreateRuleRequest struct {
	Name               string          `json:"name" validate:"required"`
	Description        *string         `json:"description,omitempty"`
	CategoryID         *string         `json:"category_id,omitempty"`
	MinAmount          *float64        `json:"min_amount,omitempty" validate:"omitempty,gte=0"`
	MaxAmount          *float64        `json:"max_amount,omitempty" validate:"omitempty,gte=0"`
	RuleType           models.RuleType `json:"rule_type" validate:"required"`
	IsManagerApprover  bool            `json:"is_manager_approver"`
	PercentageRequired *float64        `json:"percentage_required,omitempty"`
	Priority           int             `json:"priority"`
	Approvers          []RuleStepInput `json:"approvers"`
}

// UpdateRuleRequest is the payload for updating an approval rule. Nil fields
// keep their current values; a non-nil Approvers slice replaces the step
// templates wholesale.
type UpdateRuleRequest struct {
	Name               *string          `json:"name,omitempty"`
	Description        *string          `json:"description,omitempty"`
	CategoryID         *string          `json:"category_id,omitempty"`
	MinAmount          *float64         `json:"min_amount,omitempty" validate:"omitempty,gte=0"`
	MaxAmount          *float64         `json:"max_amount,omitempty" validate:"omitempty,gte=0"`
	RuleType           *models.RuleType `json:"rule_type,omitempty"`
	IsManagerApprover  *bool            `json:"is_manager_approver,omitempty"`
	PercentageRequired *float64         `json:"percentage_required,omitempty"`
	Priority           *int             `json:"priority,omitempty"`
	IsActive           *bool            `json:"is_active,omitempty"`
	Approvers          []RuleStepInput  `json:"approvers,omitempty"`
}

// CreateWorkflowRequest materializes an approval workflow for a submitted
// expense.
type CreateWorkflowRequest struct {
	ExpenseID string `json:"expense_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	CompanyID string `json:"company_id" validate:"required"`
}

// DecisionRequest carries an approver's comments for an approve or reject
// call. Comments are mandatory when rejecting.
type DecisionRequest struct {
	Comments string `json:"comments"`
}
