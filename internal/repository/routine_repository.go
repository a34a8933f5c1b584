package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint/slms-api/internal/models"
)

const routineColumns = `id, department, semester, shift, session, day_of_week, start_minute, end_minute,
subject_code, subject_name, class_type, lab_name, teacher_id, room, is_active, created_at, updated_at`

// RoutineRepository persists weekly class slots.
type RoutineRepository struct {
	db *sqlx.DB
}

// NewRoutineRepository creates the repository.
func NewRoutineRepository(db *sqlx.DB) *RoutineRepository {
	return &RoutineRepository{db: db}
}

// Create inserts a routine.
func (r *RoutineRepository) Create(ctx context.Context, routine *models.Routine) error {
	if routine.ID == "" {
		routine.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	routine.CreatedAt = now
	routine.UpdatedAt = now
	routine.IsActive = true

	const query = `INSERT INTO routines (id, department, semester, shift, session, day_of_week, start_minute, end_minute,
subject_code, subject_name, class_type, lab_name, teacher_id, room, is_active, created_at, updated_at)
VALUES (:id, :department, :semester, :shift, :session, :day_of_week, :start_minute, :end_minute,
:subject_code, :subject_name, :class_type, :lab_name, :teacher_id, :room, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, routine); err != nil {
		return fmt.Errorf("create routine: %w", err)
	}
	return nil
}

// FindByID returns one routine.
func (r *RoutineRepository) FindByID(ctx context.Context, id string) (*models.Routine, error) {
	query := fmt.Sprintf(`SELECT %s FROM routines WHERE id = $1 LIMIT 1`, routineColumns)
	var routine models.Routine
	if err := r.db.GetContext(ctx, &routine, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find routine: %w", err)
	}
	return &routine, nil
}

// ListActiveByDay returns every active routine on a weekday. The conflict
// detector scans these in memory.
func (r *RoutineRepository) ListActiveByDay(ctx context.Context, day string) ([]models.Routine, error) {
	query := fmt.Sprintf(`SELECT %s FROM routines WHERE day_of_week = $1 AND is_active = TRUE ORDER BY start_minute`, routineColumns)
	var routines []models.Routine
	if err := r.db.SelectContext(ctx, &routines, query, day); err != nil {
		return nil, fmt.Errorf("list routines by day: %w", err)
	}
	return routines, nil
}

// List returns routines matching the filter, ordered for timetable display.
func (r *RoutineRepository) List(ctx context.Context, filter models.RoutineFilter) ([]models.Routine, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	add := func(clause string, value interface{}) {
		where = append(where, fmt.Sprintf(clause, len(args)+1))
		args = append(args, value)
	}
	if filter.Department != "" {
		add("department = $%d", filter.Department)
	}
	if filter.Semester > 0 {
		add("semester = $%d", filter.Semester)
	}
	if filter.Shift != "" {
		add("shift = $%d", filter.Shift)
	}
	if filter.Session != "" {
		add("session = $%d", filter.Session)
	}
	if filter.DayOfWeek != "" {
		add("day_of_week = $%d", filter.DayOfWeek)
	}
	if filter.Active != nil {
		add("is_active = $%d", *filter.Active)
	}

	query := fmt.Sprintf(`SELECT %s FROM routines WHERE %s
ORDER BY CASE day_of_week WHEN 'SUN' THEN 0 WHEN 'MON' THEN 1 WHEN 'TUE' THEN 2 WHEN 'WED' THEN 3 ELSE 4 END, start_minute`,
		routineColumns, strings.Join(where, " AND "))
	var routines []models.Routine
	if err := r.db.SelectContext(ctx, &routines, query, args...); err != nil {
		return nil, fmt.Errorf("list routines: %w", err)
	}
	return routines, nil
}

// Update rewrites the mutable slot fields.
func (r *RoutineRepository) Update(ctx context.Context, routine *models.Routine) error {
	routine.UpdatedAt = time.Now().UTC()
	const query = `UPDATE routines SET department = :department, semester = :semester, shift = :shift, session = :session,
day_of_week = :day_of_week, start_minute = :start_minute, end_minute = :end_minute,
subject_code = :subject_code, subject_name = :subject_name, class_type = :class_type, lab_name = :lab_name,
teacher_id = :teacher_id, room = :room, updated_at = :updated_at
WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, routine)
	if err != nil {
		return fmt.Errorf("update routine: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Deactivate soft-removes a routine from the timetable.
func (r *RoutineRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE routines SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate routine: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
