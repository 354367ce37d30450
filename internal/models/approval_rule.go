package models

import "time"

// RuleType selects the strategy used to combine individual approver
// decisions into a final workflow outcome.
type RuleType string

const (
	RuleTypeSequential       RuleType = "sequential"
	RuleTypePercentage       RuleType = "percentage"
	RuleTypeSpecificApprover RuleType = "specific_approver"
	RuleTypeHybrid           RuleType = "hybrid"
)

// Valid reports whether the rule type is one of the supported strategies.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeSequential, RuleTypePercentage, RuleTypeSpecificApprover, RuleTypeHybrid:
		return true
	}
	return false
}

// ApprovalRule is a company approval policy. Among active rules matching the
// same company/category/amount band the highest priority wins, ties broken by
// earliest creation.
type ApprovalRule struct {
	ID                 string     `db:"id" json:"id"`
	CompanyID          string     `db:"company_id" json:"company_id"`
	Name               string     `db:"name" json:"name"`
	Description        *string    `db:"description" json:"description,omitempty"`
	CategoryID         *string    `db:"category_id" json:"category_id,omitempty"`
	MinAmount          *float64   `db:"min_amount" json:"min_amount,omitempty"`
	MaxAmount          *float64   `db:"max_amount" json:"max_amount,omitempty"`
	RuleType           RuleType   `db:"rule_type" json:"rule_type"`
	IsManagerApprover  bool       `db:"is_manager_approver" json:"is_manager_approver"`
	PercentageRequired *float64   `db:"percentage_required" json:"percentage_required,omitempty"`
	Priority           int        `db:"priority" json:"priority"`
	IsActive           bool       `db:"is_active" json:"is_active"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
	Steps              []RuleStep `db:"-" json:"steps,omitempty"`
}

// RuleStep is one approver slot template owned by a rule.
type RuleStep struct {
	ID            string `db:"id" json:"id"`
	RuleID        string `db:"rule_id" json:"rule_id"`
	StepOrder     int    `db:"step_order" json:"step_order"`
	ApproverID    string `db:"approver_id" json:"approver_id"`
	IsAutoApprove bool   `db:"is_auto_approve" json:"is_auto_approve"`
}

// RuleFilter constrains rule listing queries.
type RuleFilter struct {
	CompanyID string
	IsActive  *bool
	RuleType  RuleType
	Page      int
	PageSize  int
}
