package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opendesk-io/opendesk-ce/internal/models"
)

// SQLSLAPolicyRepository is the sqlx-backed SLAPolicyRepository.
type SQLSLAPolicyRepository struct {
	db *sqlx.DB
}

// NewSQLSLAPolicyRepository creates a policy repository on the shared handle.
func NewSQLSLAPolicyRepository(db *sqlx.DB) *SQLSLAPolicyRepository {
	return &SQLSLAPolicyRepository{db: db}
}

const slaPolicyColumns = `id, name, priority_id, category_id, response_minutes,
	resolution_minutes, escalation_minutes, business_hours_only, is_active,
	created_at, updated_at`

// Create inserts a policy and backfills its id and timestamps.
func (r *SQLSLAPolicyRepository) Create(ctx context.Context, policy *models.SLAPolicy) error {
	now := time.Now().UTC()
	policy.CreatedAt = now
	policy.UpdatedAt = now

	query := r.db.Rebind(`
		INSERT INTO sla_policy (name, priority_id, category_id, response_minutes,
			resolution_minutes, escalation_minutes, business_hours_only, is_active,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	res, err := r.db.ExecContext(ctx, query,
		policy.Name, policy.PriorityID, policy.CategoryID, policy.ResponseMinutes,
		policy.ResolutionMinutes, policy.EscalationMinutes, policy.BusinessHoursOnly,
		policy.IsActive, policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert sla policy: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		policy.ID = int(id)
	}
	return nil
}

// Get retrieves a policy by id.
func (r *SQLSLAPolicyRepository) Get(ctx context.Context, id int) (*models.SLAPolicy, error) {
	query := r.db.Rebind(`SELECT ` + slaPolicyColumns + ` FROM sla_policy WHERE id = ?`)

	var policy models.SLAPolicy
	err := r.db.GetContext(ctx, &policy, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sla policy %d: %w", id, err)
	}
	return &policy, nil
}

// List returns all policies, optionally restricted to active ones.
func (r *SQLSLAPolicyRepository) List(ctx context.Context, activeOnly bool) ([]models.SLAPolicy, error) {
	query := `SELECT ` + slaPolicyColumns + ` FROM sla_policy`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY priority_id, id`

	var policies []models.SLAPolicy
	if err := r.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, fmt.Errorf("list sla policies: %w", err)
	}
	return policies, nil
}

// Update rewrites a policy row. Policies referenced by live tracking are
// soft-disabled via IsActive, never deleted.
func (r *SQLSLAPolicyRepository) Update(ctx context.Context, policy *models.SLAPolicy) error {
	policy.UpdatedAt = time.Now().UTC()

	query := r.db.Rebind(`
		UPDATE sla_policy SET name = ?, priority_id = ?, category_id = ?,
			response_minutes = ?, resolution_minutes = ?, escalation_minutes = ?,
			business_hours_only = ?, is_active = ?, updated_at = ?
		WHERE id = ?`)

	res, err := r.db.ExecContext(ctx, query,
		policy.Name, policy.PriorityID, policy.CategoryID, policy.ResponseMinutes,
		policy.ResolutionMinutes, policy.EscalationMinutes, policy.BusinessHoursOnly,
		policy.IsActive, policy.UpdatedAt, policy.ID)
	if err != nil {
		return fmt.Errorf("update sla policy %d: %w", policy.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActive returns the active policy for the exact (priority, category)
// pair. Lowest id wins if duplicates slipped past the admin UI.
func (r *SQLSLAPolicyRepository) FindActive(ctx context.Context, priorityID int, categoryID *int) (*models.SLAPolicy, error) {
	var (
		query string
		args  []interface{}
	)
	if categoryID != nil {
		query = `SELECT ` + slaPolicyColumns + ` FROM sla_policy
			WHERE priority_id = ? AND category_id = ? AND is_active = true
			ORDER BY id LIMIT 1`
		args = []interface{}{priorityID, *categoryID}
	} else {
		query = `SELECT ` + slaPolicyColumns + ` FROM sla_policy
			WHERE priority_id = ? AND category_id IS NULL AND is_active = true
			ORDER BY id LIMIT 1`
		args = []interface{}{priorityID}
	}

	var policy models.SLAPolicy
	err := r.db.GetContext(ctx, &policy, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active sla policy: %w", err)
	}
	return &policy, nil
}
