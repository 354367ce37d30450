package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensio/approval-api/internal/models"
)

func workflowRows(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "expense_id", "rule_id", "company_id", "rule_type", "percentage_required",
		"total_steps", "current_step", "status", "created_at", "completed_at"}).
		AddRow(id, "exp-1", "rule-1", "co-1", string(models.RuleTypeSequential), nil, 3, 1, string(models.WorkflowStatusPending), now, nil)
}

func actionRow(id string, status models.ActionStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "workflow_id", "step_order", "approver_id", "auto_approve", "status", "comments", "action_date", "created_at"}).
		AddRow(id, "wf-1", 1, "user-1", false, string(status), nil, nil, now)
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE expense_approvals SET current_step = $2 WHERE id = $1`)).
		WithArgs("wf-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx WorkflowTx) error {
		return tx.AdvanceWorkflow(context.Background(), "wf-1", 2)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(tx WorkflowTx) error {
		return boom
	})
	assert.Equal(t, boom, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimActionCompareAndSwap(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	at := time.Now().UTC()
	comments := "looks fine"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE approval_actions
        SET status = $1, comments = $2, action_date = $3
        WHERE id = $4 AND approver_id = $5 AND status = $6
        RETURNING`)).
		WithArgs(string(models.ActionStatusApproved), comments, at, "act-1", "user-1", string(models.ActionStatusPending)).
		WillReturnRows(actionRow("act-1", models.ActionStatusApproved))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx WorkflowTx) error {
		action, err := tx.ClaimAction(context.Background(), "act-1", "user-1", models.ActionStatusApproved, &comments, at)
		if err != nil {
			return err
		}
		assert.Equal(t, models.ActionStatusApproved, action.Status)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimActionAlreadyProcessed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE approval_actions").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.InTx(context.Background(), func(tx WorkflowTx) error {
		_, err := tx.ClaimAction(context.Background(), "act-1", "user-1", models.ActionStatusApproved, nil, at)
		return err
	})
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockWorkflowByAction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF w").
		WithArgs("act-1").
		WillReturnRows(workflowRows("wf-1"))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx WorkflowTx) error {
		wf, err := tx.LockWorkflowByAction(context.Background(), "act-1")
		if err != nil {
			return err
		}
		assert.Equal(t, "wf-1", wf.ID)
		assert.Equal(t, models.WorkflowStatusPending, wf.Status)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStepPositionCountsByOrder(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM approval_actions WHERE workflow_id = $1 AND step_order <= $2`)).
		WithArgs("wf-1", 0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx WorkflowTx) error {
		position, err := tx.StepPosition(context.Background(), "wf-1", 0)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, position)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishWorkflowGuardsTerminalState(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE expense_approvals SET status = $2, completed_at = $3 WHERE id = $1 AND status = $4`)).
		WithArgs("wf-1", string(models.WorkflowStatusApproved), at, string(models.WorkflowStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx WorkflowTx) error {
		return tx.FinishWorkflow(context.Background(), "wf-1", models.WorkflowStatusApproved, at)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWorkflowAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO expense_approvals").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO approval_actions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	wf := &models.ExpenseApproval{ExpenseID: "exp-1", RuleID: "rule-1", CompanyID: "co-1",
		RuleType: models.RuleTypeSequential, TotalSteps: 1, CurrentStep: 1, Status: models.WorkflowStatusPending}
	err := repo.InTx(context.Background(), func(tx WorkflowTx) error {
		if err := tx.InsertWorkflow(context.Background(), wf); err != nil {
			return err
		}
		return tx.InsertActions(context.Background(), []models.ApprovalAction{
			{WorkflowID: wf.ID, StepOrder: 1, ApproverID: "user-1", Status: models.ActionStatusPending},
		})
	})
	require.NoError(t, err)
	assert.NotEmpty(t, wf.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkflowByExpense(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectQuery("FROM expense_approvals WHERE expense_id").
		WithArgs("exp-1").
		WillReturnRows(workflowRows("wf-1"))

	wf, err := repo.GetWorkflowByExpense(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", wf.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingForApprover(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "workflow_id", "step_order", "approver_id", "auto_approve", "status",
		"comments", "action_date", "created_at",
		"expense_id", "expense_title", "amount", "currency", "submitter_id", "submitter_name",
		"workflow_rule_id", "workflow_created"}).
		AddRow("act-1", "wf-1", 1, "user-1", false, string(models.ActionStatusPending), nil, nil, now,
			"exp-1", "Team lunch", 84.20, "USD", "emp-1", "Grace Hopper", "rule-1", now)

	mock.ExpectQuery("FROM approval_actions a").
		WithArgs("user-1", string(models.ActionStatusPending), string(models.WorkflowStatusPending), "co-1").
		WillReturnRows(rows)

	details, err := repo.ListPendingForApprover(context.Background(), "user-1", "co-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Team lunch", details[0].ExpenseTitle)
	assert.Equal(t, "Grace Hopper", details[0].SubmitterName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
