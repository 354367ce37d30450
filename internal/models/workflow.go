package models

import "time"

// WorkflowStatus is the lifecycle state of an ExpenseApproval. Approved and
// rejected are terminal.
type WorkflowStatus string

const (
	WorkflowStatusPending  WorkflowStatus = "pending"
	WorkflowStatusApproved WorkflowStatus = "approved"
	WorkflowStatusRejected WorkflowStatus = "rejected"
)

// ActionStatus is the state of a single approver slot.
type ActionStatus string

const (
	ActionStatusPending  ActionStatus = "pending"
	ActionStatusApproved ActionStatus = "approved"
	ActionStatusRejected ActionStatus = "rejected"
)

// Decision is the verb an approver submits against a pending action.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ExpenseApproval is one in-flight approval workflow for a single expense.
// RuleType and PercentageRequired are snapshotted from the governing rule at
// creation time so later rule edits never affect in-flight workflows.
// CurrentStep is only meaningful for the sequential strategy.
type ExpenseApproval struct {
	ID                 string         `db:"id" json:"id"`
	ExpenseID          string         `db:"expense_id" json:"expense_id"`
	RuleID             string         `db:"rule_id" json:"rule_id"`
	CompanyID          string         `db:"company_id" json:"company_id"`
	RuleType           RuleType       `db:"rule_type" json:"rule_type"`
	PercentageRequired *float64       `db:"percentage_required" json:"percentage_required,omitempty"`
	TotalSteps         int            `db:"total_steps" json:"total_steps"`
	CurrentStep        int            `db:"current_step" json:"current_step"`
	Status             WorkflowStatus `db:"status" json:"status"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	CompletedAt        *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// ApprovalAction is one decision slot within a workflow, created eagerly in
// state pending when the workflow is materialized. AutoApprove is copied from
// the rule step template at creation time. An action leaves pending exactly
// once.
type ApprovalAction struct {
	ID          string       `db:"id" json:"id"`
	WorkflowID  string       `db:"workflow_id" json:"workflow_id"`
	StepOrder   int          `db:"step_order" json:"step_order"`
	ApproverID  string       `db:"approver_id" json:"approver_id"`
	AutoApprove bool         `db:"auto_approve" json:"auto_approve"`
	Status      ActionStatus `db:"status" json:"status"`
	Comments    *string      `db:"comments" json:"comments,omitempty"`
	ActionDate  *time.Time   `db:"action_date" json:"action_date,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// PendingActionDetail joins a pending action with a minimal expense summary
// for approver inboxes.
type PendingActionDetail struct {
	ApprovalAction
	ExpenseID       string    `db:"expense_id" json:"expense_id"`
	ExpenseTitle    string    `db:"expense_title" json:"expense_title"`
	Amount          float64   `db:"amount" json:"amount"`
	Currency        string    `db:"currency" json:"currency"`
	SubmitterID     string    `db:"submitter_id" json:"submitter_id"`
	SubmitterName   string    `db:"submitter_name" json:"submitter_name"`
	WorkflowRuleID  string    `db:"workflow_rule_id" json:"workflow_rule_id"`
	WorkflowCreated time.Time `db:"workflow_created" json:"workflow_created"`
}

// HistoryEntry is one row of an expense's approval trail, including actions
// still pending.
type HistoryEntry struct {
	ApprovalAction
	ApproverName  string `db:"approver_name" json:"approver_name"`
	ApproverEmail string `db:"approver_email" json:"approver_email"`
}

// WorkflowOutcome reports the effect of a single decision.
type WorkflowOutcome struct {
	Action         *ApprovalAction `json:"action"`
	WorkflowID     string          `json:"workflow_id"`
	ExpenseID      string          `json:"expense_id"`
	CompanyID      string          `json:"company_id"`
	RuleType       RuleType        `json:"rule_type"`
	WorkflowStatus WorkflowStatus  `json:"workflow_status"`
	Advanced       bool            `json:"advanced"`
	Completed      bool            `json:"completed"`
}
