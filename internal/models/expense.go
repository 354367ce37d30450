package models

import "time"

// ExpenseStatus mirrors the lifecycle states the engine is allowed to write
// back to the expense record.
type ExpenseStatus string

const (
	ExpenseStatusDraft           ExpenseStatus = "draft"
	ExpenseStatusSubmitted       ExpenseStatus = "submitted"
	ExpenseStatusPendingApproval ExpenseStatus = "pending_approval"
	ExpenseStatusApproved        ExpenseStatus = "approved"
	ExpenseStatusRejected        ExpenseStatus = "rejected"
)

// Expense is the narrow view of an expense record the engine reads. Amount is
// already normalized to the company currency by the expense service.
type Expense struct {
	ID          string        `db:"id" json:"id"`
	CompanyID   string        `db:"company_id" json:"company_id"`
	UserID      string        `db:"user_id" json:"user_id"`
	Title       string        `db:"title" json:"title"`
	CategoryID  *string       `db:"category_id" json:"category_id,omitempty"`
	Amount      float64       `db:"converted_amount" json:"amount"`
	Currency    string        `db:"currency" json:"currency"`
	Status      ExpenseStatus `db:"status" json:"status"`
	ExpenseDate time.Time     `db:"expense_date" json:"expense_date"`
}
