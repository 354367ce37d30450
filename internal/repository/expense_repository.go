package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/expensio/approval-api/internal/models"
)

// ExpenseRepository is the narrow read/write contract against the expense
// record. The engine only reads routing inputs (category, normalized amount)
// and writes status transitions; everything else about expenses belongs to
// the expense service.
type ExpenseRepository struct {
	db *sqlx.DB
}

// NewExpenseRepository constructs the repository.
func NewExpenseRepository(db *sqlx.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

// FindByID loads the engine's view of an expense. Amount is the
// company-currency converted amount.
func (r *ExpenseRepository) FindByID(ctx context.Context, id string) (*models.Expense, error) {
	const query = `SELECT id, company_id, user_id, title, category_id, converted_amount, currency, status, expense_date
        FROM expenses WHERE id = $1`
	var expense models.Expense
	if err := r.db.GetContext(ctx, &expense, query, id); err != nil {
		return nil, err
	}
	return &expense, nil
}

// UpdateStatus writes a status transition outside of a workflow transaction.
// Transitions tied to a workflow state change go through WorkflowTx instead.
func (r *ExpenseRepository) UpdateStatus(ctx context.Context, id string, status models.ExpenseStatus) error {
	const query = `UPDATE expenses SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return err
	}
	return nil
}
