package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/studio-booking-api/internal/models"
)

// ErrVersionConflict is returned when a compare-and-swap write finds the row changed.
var ErrVersionConflict = errors.New("class session version conflict")

const classSelect = `SELECT c.id, c.title, c.description, c.instructor_id, COALESCE(u.full_name, '') AS instructor_name, c.type, c.level, c.location, c.capacity, c.class_date, c.start_time, c.end_time, c.is_active, c.enrolled, c.version, c.created_at, c.updated_at FROM class_sessions c LEFT JOIN users u ON u.id = c.instructor_id`

const confirmedCountExpr = `jsonb_array_length(jsonb_path_query_array(c.enrolled, '$[*] ? (@.status == "confirmed")'))`

// ClassSessionRepository persists classes and their enrollment ledgers.
type ClassSessionRepository struct {
	db *sqlx.DB
}

// NewClassSessionRepository constructs the repository.
func NewClassSessionRepository(db *sqlx.DB) *ClassSessionRepository {
	return &ClassSessionRepository{db: db}
}

// FindByID loads a class with its ledger and current version.
func (r *ClassSessionRepository) FindByID(ctx context.Context, id string) (*models.ClassSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}
	query := classSelect + ` WHERE c.id = $1`
	var class models.ClassSession
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find class session: %w", err)
	}
	return &class, nil
}

// List returns active classes matching the filter ordered by start time.
func (r *ClassSessionRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassSession, error) {
	conditions := []string{"c.is_active = TRUE"}
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.Type != "" {
		add("c.type = $%d", filter.Type)
	}
	if filter.Level != "" {
		add("c.level = $%d", filter.Level)
	}
	if filter.InstructorID != "" {
		add("c.instructor_id = $%d", filter.InstructorID)
	}
	if filter.Location != "" {
		add("c.location = $%d", filter.Location)
	}
	if !filter.From.IsZero() {
		add("c.start_time >= $%d", filter.From)
	}
	if filter.AvailableOnly {
		conditions = append(conditions, confirmedCountExpr+" < c.capacity")
	}

	query := classSelect + " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY c.start_time ASC"
	var classes []models.ClassSession
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, fmt.Errorf("list class sessions: %w", err)
	}
	return classes, nil
}

// Search performs a case-insensitive keyword match on title and description.
func (r *ClassSessionRepository) Search(ctx context.Context, search models.ClassSearch) ([]models.ClassSession, error) {
	conditions := []string{"c.is_active = TRUE"}
	var args []interface{}

	if kw := strings.TrimSpace(search.Keyword); kw != "" {
		args = append(args, "%"+kw+"%")
		conditions = append(conditions, fmt.Sprintf("(c.title ILIKE $%d OR c.description ILIKE $%d)", len(args), len(args)))
	}
	if search.Type != "" {
		args = append(args, search.Type)
		conditions = append(conditions, fmt.Sprintf("c.type = $%d", len(args)))
	}
	if search.Level != "" {
		args = append(args, search.Level)
		conditions = append(conditions, fmt.Sprintf("c.level = $%d", len(args)))
	}
	if search.InstructorID != "" {
		args = append(args, search.InstructorID)
		conditions = append(conditions, fmt.Sprintf("c.instructor_id = $%d", len(args)))
	}
	if search.Date != nil {
		args = append(args, search.Date.Format("2006-01-02"))
		conditions = append(conditions, fmt.Sprintf("c.class_date = $%d", len(args)))
	}

	query := classSelect + " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY c.start_time ASC"
	var classes []models.ClassSession
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, fmt.Errorf("search class sessions: %w", err)
	}
	return classes, nil
}

// ListByUser returns every class whose ledger contains an entry for the user.
func (r *ClassSessionRepository) ListByUser(ctx context.Context, userID string) ([]models.ClassSession, error) {
	probe, err := json.Marshal([]map[string]string{{"user_id": userID}})
	if err != nil {
		return nil, fmt.Errorf("build ledger probe: %w", err)
	}
	query := classSelect + ` WHERE c.enrolled @> $1::jsonb ORDER BY c.start_time ASC`
	var classes []models.ClassSession
	if err := r.db.SelectContext(ctx, &classes, query, string(probe)); err != nil {
		return nil, fmt.Errorf("list class sessions by user: %w", err)
	}
	return classes, nil
}

// Create inserts a new class with an empty ledger at version 1.
func (r *ClassSessionRepository) Create(ctx context.Context, class *models.ClassSession) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now
	if class.Enrolled == nil {
		class.Enrolled = models.Ledger{}
	}
	class.Version = 1

	const query = `INSERT INTO class_sessions (id, title, description, instructor_id, type, level, location, capacity, class_date, start_time, end_time, is_active, enrolled, version, created_at, updated_at) VALUES (:id, :title, :description, :instructor_id, :type, :level, :location, :capacity, :class_date, :start_time, :end_time, :is_active, :enrolled, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class session: %w", err)
	}
	return nil
}

// SaveLedger writes the ledger only if the row is still at expectedVersion.
// It returns the new version on success.
func (r *ClassSessionRepository) SaveLedger(ctx context.Context, id string, ledger models.Ledger, expectedVersion int64, at time.Time) (int64, error) {
	const query = `UPDATE class_sessions SET enrolled = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`
	res, err := r.db.ExecContext(ctx, query, ledger, at, id, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("save ledger: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// Update writes all mutable columns, ledger included, guarded by the version the caller read.
func (r *ClassSessionRepository) Update(ctx context.Context, class *models.ClassSession) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE class_sessions SET title = :title, description = :description, type = :type, level = :level, location = :location, capacity = :capacity, class_date = :class_date, start_time = :start_time, end_time = :end_time, is_active = :is_active, enrolled = :enrolled, version = version + 1, updated_at = :updated_at WHERE id = :id AND version = :version`
	res, err := r.db.NamedExecContext(ctx, query, class)
	if err != nil {
		return fmt.Errorf("update class session: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	class.Version++
	return nil
}

// Delete removes the class if it has not changed since expectedVersion.
func (r *ClassSessionRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	const query = `DELETE FROM class_sessions WHERE id = $1 AND version = $2`
	res, err := r.db.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete class session: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}
