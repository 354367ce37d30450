package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/expensio/approval-api/internal/models"
)

// WorkflowTx exposes the row operations available inside one workflow
// transaction. All mutating workflow state transitions go through an
// implementation of this interface so that a multi-row change either fully
// commits or fully rolls back.
type WorkflowTx interface {
	GetAction(ctx context.Context, actionID string) (*models.ApprovalAction, error)
	// LockWorkflowByAction loads and row-locks the workflow owning the given
	// action. The lock serializes concurrent decisions on the same workflow.
	LockWorkflowByAction(ctx context.Context, actionID string) (*models.ExpenseApproval, error)
	// ClaimAction transitions a pending action owned by approverID to the
	// given status. Returns sql.ErrNoRows when the action is missing, owned
	// by someone else, or no longer pending.
	ClaimAction(ctx context.Context, actionID, approverID string, status models.ActionStatus, comments *string, at time.Time) (*models.ApprovalAction, error)
	CountApproved(ctx context.Context, workflowID string) (int, error)
	// StepPosition returns the 1-based rank of the given step order within
	// the workflow's actions. The injected manager step sits at order 0, so
	// rank rather than raw order is what the sequential strategy compares
	// against current_step.
	StepPosition(ctx context.Context, workflowID string, stepOrder int) (int, error)
	AdvanceWorkflow(ctx context.Context, workflowID string, nextStep int) error
	FinishWorkflow(ctx context.Context, workflowID string, status models.WorkflowStatus, at time.Time) error
	InsertWorkflow(ctx context.Context, wf *models.ExpenseApproval) error
	InsertActions(ctx context.Context, actions []models.ApprovalAction) error
	SetExpenseStatus(ctx context.Context, expenseID string, status models.ExpenseStatus) error
}

// WorkflowRepository is the persistence boundary for approval workflows. It
// owns the transaction primitive and the point reads used outside of
// transactions; decision logic lives in the service layer.
type WorkflowRepository struct {
	db *sqlx.DB
}

// NewWorkflowRepository constructs the repository.
func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// InTx runs fn inside a database transaction. Any error from fn rolls the
// transaction back; a nil return commits it.
func (r *WorkflowRepository) InTx(ctx context.Context, fn func(tx WorkflowTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin workflow tx: %w", err)
	}
	if err := fn(&workflowTx{tx: tx}); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workflow tx: %w", err)
	}
	return nil
}

const workflowColumns = `id, expense_id, rule_id, company_id, rule_type, percentage_required,
        total_steps, current_step, status, created_at, completed_at`

const actionColumns = `id, workflow_id, step_order, approver_id, auto_approve, status, comments, action_date, created_at`

// GetWorkflow loads a workflow by id.
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*models.ExpenseApproval, error) {
	const query = `SELECT ` + workflowColumns + ` FROM expense_approvals WHERE id = $1`
	var wf models.ExpenseApproval
	if err := r.db.GetContext(ctx, &wf, query, id); err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetWorkflowByExpense loads the workflow attached to an expense, if any.
func (r *WorkflowRepository) GetWorkflowByExpense(ctx context.Context, expenseID string) (*models.ExpenseApproval, error) {
	const query = `SELECT ` + workflowColumns + ` FROM expense_approvals WHERE expense_id = $1`
	var wf models.ExpenseApproval
	if err := r.db.GetContext(ctx, &wf, query, expenseID); err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetAction loads one approval action by id.
func (r *WorkflowRepository) GetAction(ctx context.Context, id string) (*models.ApprovalAction, error) {
	const query = `SELECT ` + actionColumns + ` FROM approval_actions WHERE id = $1`
	var action models.ApprovalAction
	if err := r.db.GetContext(ctx, &action, query, id); err != nil {
		return nil, err
	}
	return &action, nil
}

// ListHistory returns every action for an expense, including pending ones,
// joined with approver identity, ordered by step then decision time.
func (r *WorkflowRepository) ListHistory(ctx context.Context, expenseID string) ([]models.HistoryEntry, error) {
	const query = `SELECT a.id, a.workflow_id, a.step_order, a.approver_id, a.auto_approve, a.status,
        a.comments, a.action_date, a.created_at,
        u.first_name || ' ' || u.last_name AS approver_name, u.email AS approver_email
        FROM approval_actions a
        JOIN expense_approvals w ON w.id = a.workflow_id
        JOIN users u ON u.id = a.approver_id
        WHERE w.expense_id = $1
        ORDER BY a.step_order ASC, a.action_date ASC NULLS LAST`
	var entries []models.HistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, expenseID); err != nil {
		return nil, fmt.Errorf("list approval history: %w", err)
	}
	return entries, nil
}

// ListPendingForApprover returns the approver's pending actions joined with
// a minimal expense summary, newest workflows first.
func (r *WorkflowRepository) ListPendingForApprover(ctx context.Context, approverID, companyID string) ([]models.PendingActionDetail, error) {
	const query = `SELECT a.id, a.workflow_id, a.step_order, a.approver_id, a.auto_approve, a.status,
        a.comments, a.action_date, a.created_at,
        e.id AS expense_id, e.title AS expense_title, e.converted_amount AS amount, e.currency,
        e.user_id AS submitter_id, u.first_name || ' ' || u.last_name AS submitter_name,
        w.rule_id AS workflow_rule_id, w.created_at AS workflow_created
        FROM approval_actions a
        JOIN expense_approvals w ON w.id = a.workflow_id
        JOIN expenses e ON e.id = w.expense_id
        JOIN users u ON u.id = e.user_id
        WHERE a.approver_id = $1
          AND a.status = $2
          AND w.status = $3
          AND w.company_id = $4
        ORDER BY w.created_at DESC, a.step_order ASC`
	var details []models.PendingActionDetail
	if err := r.db.SelectContext(ctx, &details, query, approverID, models.ActionStatusPending, models.WorkflowStatusPending, companyID); err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	return details, nil
}

// workflowTx implements WorkflowTx on top of a live sqlx transaction.
type workflowTx struct {
	tx *sqlx.Tx
}

func (t *workflowTx) GetAction(ctx context.Context, actionID string) (*models.ApprovalAction, error) {
	const query = `SELECT ` + actionColumns + ` FROM approval_actions WHERE id = $1`
	var action models.ApprovalAction
	if err := t.tx.GetContext(ctx, &action, query, actionID); err != nil {
		return nil, err
	}
	return &action, nil
}

func (t *workflowTx) LockWorkflowByAction(ctx context.Context, actionID string) (*models.ExpenseApproval, error) {
	const query = `SELECT w.id, w.expense_id, w.rule_id, w.company_id, w.rule_type, w.percentage_required,
        w.total_steps, w.current_step, w.status, w.created_at, w.completed_at
        FROM expense_approvals w
        JOIN approval_actions a ON a.workflow_id = w.id
        WHERE a.id = $1
        FOR UPDATE OF w`
	var wf models.ExpenseApproval
	if err := t.tx.GetContext(ctx, &wf, query, actionID); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (t *workflowTx) ClaimAction(ctx context.Context, actionID, approverID string, status models.ActionStatus, comments *string, at time.Time) (*models.ApprovalAction, error) {
	const query = `UPDATE approval_actions
        SET status = $1, comments = $2, action_date = $3
        WHERE id = $4 AND approver_id = $5 AND status = $6
        RETURNING ` + actionColumns
	var action models.ApprovalAction
	if err := t.tx.GetContext(ctx, &action, query, status, comments, at, actionID, approverID, models.ActionStatusPending); err != nil {
		return nil, err
	}
	return &action, nil
}

func (t *workflowTx) CountApproved(ctx context.Context, workflowID string) (int, error) {
	const query = `SELECT COUNT(*) FROM approval_actions WHERE workflow_id = $1 AND status = $2`
	var count int
	if err := t.tx.GetContext(ctx, &count, query, workflowID, models.ActionStatusApproved); err != nil {
		return 0, fmt.Errorf("count approved actions: %w", err)
	}
	return count, nil
}

func (t *workflowTx) StepPosition(ctx context.Context, workflowID string, stepOrder int) (int, error) {
	const query = `SELECT COUNT(*) FROM approval_actions WHERE workflow_id = $1 AND step_order <= $2`
	var position int
	if err := t.tx.GetContext(ctx, &position, query, workflowID, stepOrder); err != nil {
		return 0, fmt.Errorf("resolve step position: %w", err)
	}
	return position, nil
}

func (t *workflowTx) AdvanceWorkflow(ctx context.Context, workflowID string, nextStep int) error {
	const query = `UPDATE expense_approvals SET current_step = $2 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, workflowID, nextStep); err != nil {
		return fmt.Errorf("advance workflow: %w", err)
	}
	return nil
}

func (t *workflowTx) FinishWorkflow(ctx context.Context, workflowID string, status models.WorkflowStatus, at time.Time) error {
	const query = `UPDATE expense_approvals SET status = $2, completed_at = $3 WHERE id = $1 AND status = $4`
	if _, err := t.tx.ExecContext(ctx, query, workflowID, status, at, models.WorkflowStatusPending); err != nil {
		return fmt.Errorf("finish workflow: %w", err)
	}
	return nil
}

func (t *workflowTx) InsertWorkflow(ctx context.Context, wf *models.ExpenseApproval) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO expense_approvals (id, expense_id, rule_id, company_id, rule_type, percentage_required,
        total_steps, current_step, status, created_at)
        VALUES (:id, :expense_id, :rule_id, :company_id, :rule_type, :percentage_required,
        :total_steps, :current_step, :status, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, wf); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (t *workflowTx) InsertActions(ctx context.Context, actions []models.ApprovalAction) error {
	const query = `INSERT INTO approval_actions (id, workflow_id, step_order, approver_id, auto_approve, status, created_at)
        VALUES (:id, :workflow_id, :step_order, :approver_id, :auto_approve, :status, :created_at)`
	for i := range actions {
		if actions[i].ID == "" {
			actions[i].ID = uuid.NewString()
		}
		if actions[i].CreatedAt.IsZero() {
			actions[i].CreatedAt = time.Now().UTC()
		}
		if _, err := t.tx.NamedExecContext(ctx, query, actions[i]); err != nil {
			return fmt.Errorf("insert approval action %d: %w", actions[i].StepOrder, err)
		}
	}
	return nil
}

func (t *workflowTx) SetExpenseStatus(ctx context.Context, expenseID string, status models.ExpenseStatus) error {
	const query = `UPDATE expenses SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := t.tx.ExecContext(ctx, query, expenseID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("set expense status: %w", err)
	}
	return nil
}
