package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/expensio/approval-api/internal/models"
)

// RuleRepository handles persistence of approval rules and their step
// templates.
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository constructs the repository.
func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, company_id, name, description, category_id, min_amount, max_amount,
        rule_type, is_manager_approver, percentage_required, priority, is_active, created_at, updated_at`

// FindApplicable resolves the single governing rule for an expense. Active
// rules are filtered by company, category (unrestricted or matching) and the
// optional amount band, then ordered by priority descending with creation
// time as the stable tie-break.
func (r *RuleRepository) FindApplicable(ctx context.Context, companyID string, categoryID *string, amount float64) (*models.ApprovalRule, error) {
	const query = `SELECT ` + ruleColumns + `
        FROM approval_rules
        WHERE company_id = $1
          AND is_active = TRUE
          AND (category_id IS NULL OR category_id = $2)
          AND (min_amount IS NULL OR $3 >= min_amount)
          AND (max_amount IS NULL OR $3 <= max_amount)
        ORDER BY priority DESC, created_at ASC
        LIMIT 1`
	var rule models.ApprovalRule
	if err := r.db.GetContext(ctx, &rule, query, companyID, categoryID, amount); err != nil {
		return nil, err
	}
	steps, err := r.loadSteps(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	rule.Steps = steps
	return &rule, nil
}

// FindByID loads one rule with its step templates.
func (r *RuleRepository) FindByID(ctx context.Context, id, companyID string) (*models.ApprovalRule, error) {
	const query = `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = $1 AND company_id = $2`
	var rule models.ApprovalRule
	if err := r.db.GetContext(ctx, &rule, query, id, companyID); err != nil {
		return nil, err
	}
	steps, err := r.loadSteps(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	rule.Steps = steps
	return &rule, nil
}

// List returns rules for a company matching the filter.
func (r *RuleRepository) List(ctx context.Context, filter models.RuleFilter) ([]models.ApprovalRule, int, error) {
	base := "FROM approval_rules WHERE company_id = $1"
	args := []interface{}{filter.CompanyID}

	var conditions []string
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}
	if filter.RuleType != "" {
		conditions = append(conditions, fmt.Sprintf("rule_type = $%d", len(args)+1))
		args = append(args, filter.RuleType)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT "+ruleColumns+" %s ORDER BY priority DESC, created_at ASC LIMIT %d OFFSET %d", base, size, offset)

	var rules []models.ApprovalRule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list approval rules: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count approval rules: %w", err)
	}

	for i := range rules {
		steps, err := r.loadSteps(ctx, rules[i].ID)
		if err != nil {
			return nil, 0, err
		}
		rules[i].Steps = steps
	}
	return rules, total, nil
}

// Create persists a rule and its step templates atomically.
func (r *RuleRepository) Create(ctx context.Context, rule *models.ApprovalRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const insertRule = `INSERT INTO approval_rules (id, company_id, name, description, category_id, min_amount, max_amount,
        rule_type, is_manager_approver, percentage_required, priority, is_active, created_at, updated_at)
        VALUES (:id, :company_id, :name, :description, :category_id, :min_amount, :max_amount,
        :rule_type, :is_manager_approver, :percentage_required, :priority, :is_active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertRule, rule); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create approval rule: %w", err)
	}
	if err := insertRuleSteps(ctx, tx, rule.ID, rule.Steps); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approval rule: %w", err)
	}
	return nil
}

// Update rewrites a rule's mutable fields and replaces its step templates
// wholesale. In-flight workflows are unaffected; they carry their own
// snapshot of the rule.
func (r *RuleRepository) Update(ctx context.Context, rule *models.ApprovalRule) error {
	rule.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const updateRule = `UPDATE approval_rules SET name = :name, description = :description, category_id = :category_id,
        min_amount = :min_amount, max_amount = :max_amount, rule_type = :rule_type,
        is_manager_approver = :is_manager_approver, percentage_required = :percentage_required,
        priority = :priority, is_active = :is_active, updated_at = :updated_at
        WHERE id = :id AND company_id = :company_id`
	res, err := tx.NamedExecContext(ctx, updateRule, rule)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update approval rule: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM approval_rule_steps WHERE rule_id = $1`, rule.ID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear rule steps: %w", err)
	}
	if err := insertRuleSteps(ctx, tx, rule.ID, rule.Steps); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approval rule update: %w", err)
	}
	return nil
}

func insertRuleSteps(ctx context.Context, tx *sqlx.Tx, ruleID string, steps []models.RuleStep) error {
	const insertStep = `INSERT INTO approval_rule_steps (id, rule_id, step_order, approver_id, is_auto_approve)
        VALUES (:id, :rule_id, :step_order, :approver_id, :is_auto_approve)`
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
		steps[i].RuleID = ruleID
		if _, err := tx.NamedExecContext(ctx, insertStep, steps[i]); err != nil {
			return fmt.Errorf("insert rule step %d: %w", steps[i].StepOrder, err)
		}
	}
	return nil
}

func (r *RuleRepository) loadSteps(ctx context.Context, ruleID string) ([]models.RuleStep, error) {
	const query = `SELECT id, rule_id, step_order, approver_id, is_auto_approve
        FROM approval_rule_steps WHERE rule_id = $1 ORDER BY step_order ASC`
	var steps []models.RuleStep
	if err := r.db.SelectContext(ctx, &steps, query, ruleID); err != nil {
		return nil, fmt.Errorf("load rule steps: %w", err)
	}
	return steps, nil
}
