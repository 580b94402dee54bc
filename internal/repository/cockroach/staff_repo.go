package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lexhub-backend/internal/domain"
	"lexhub-backend/pkg/metrics"
)

// StaffSchema creates the support roster table
const StaffSchema = `
	CREATE TABLE IF NOT EXISTS support_staff (
		user_id STRING PRIMARY KEY,
		display_name STRING NOT NULL,
		role STRING NOT NULL,
		department STRING NOT NULL DEFAULT '',
		active BOOL NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		INDEX support_staff_role_idx (role, active)
	)
`

// ErrStaffNotFound is returned when no roster entry matches
var ErrStaffNotFound = errors.New("staff member not found")

// StaffRepository handles the support roster in CockroachDB
type StaffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository creates a new StaffRepository
func NewStaffRepository(pool *pgxpool.Pool) *StaffRepository {
	return &StaffRepository{pool: pool}
}

// EnsureSchema creates the table when missing
func (r *StaffRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, StaffSchema); err != nil {
		return fmt.Errorf("failed to create support_staff table: %w", err)
	}
	return nil
}

// Upsert inserts or updates a roster entry
func (r *StaffRepository) Upsert(ctx context.Context, m *domain.StaffMember) error {
	defer metrics.RecordDBQuery("upsert", "support_staff", time.Now())
	query := `
		UPSERT INTO support_staff (user_id, display_name, role, department, active)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, query, m.UserID, m.DisplayName, string(m.Role), m.Department, m.Active); err != nil {
		return fmt.Errorf("failed to upsert staff member: %w", err)
	}
	return nil
}

// GetByID retrieves one roster entry
func (r *StaffRepository) GetByID(ctx context.Context, userID string) (*domain.StaffMember, error) {
	defer metrics.RecordDBQuery("select", "support_staff", time.Now())
	query := `
		SELECT user_id, display_name, role, department, active, created_at
		FROM support_staff
		WHERE user_id = $1
	`
	m, err := scanStaff(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaffNotFound
		}
		return nil, fmt.Errorf("failed to get staff member: %w", err)
	}
	return m, nil
}

// ListActiveByRole returns active members of a role in directory order
func (r *StaffRepository) ListActiveByRole(ctx context.Context, role domain.Role) ([]*domain.StaffMember, error) {
	defer metrics.RecordDBQuery("select", "support_staff", time.Now())
	query := `
		SELECT user_id, display_name, role, department, active, created_at
		FROM support_staff
		WHERE role = $1 AND active = true
		ORDER BY created_at ASC, user_id ASC
	`
	rows, err := r.pool.Query(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var members []*domain.StaffMember
	for rows.Next() {
		m, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staff member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staff: %w", err)
	}
	return members, nil
}

// SetActive enables or disables a roster entry
func (r *StaffRepository) SetActive(ctx context.Context, userID string, active bool) error {
	defer metrics.RecordDBQuery("update", "support_staff", time.Now())
	tag, err := r.pool.Exec(ctx, `UPDATE support_staff SET active = $2 WHERE user_id = $1`, userID, active)
	if err != nil {
		return fmt.Errorf("failed to update staff member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaffNotFound
	}
	return nil
}

func scanStaff(row pgx.Row) (*domain.StaffMember, error) {
	m := &domain.StaffMember{}
	var role string
	if err := row.Scan(&m.UserID, &m.DisplayName, &role, &m.Department, &m.Active, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	return m, nil
}
