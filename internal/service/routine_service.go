package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
)

const minClassMinutes = 15

type routineRepository interface {
	Create(ctx context.Context, routine *models.Routine) error
	FindByID(ctx context.Context, id string) (*models.Routine, error)
	ListActiveByDay(ctx context.Context, day string) ([]models.Routine, error)
	List(ctx context.Context, filter models.RoutineFilter) ([]models.Routine, error)
	Update(ctx context.Context, routine *models.Routine) error
	Deactivate(ctx context.Context, id string) error
}

// RoutineRequest is the create/update payload for a weekly class slot.
type RoutineRequest struct {
	Department  string           `json:"department" validate:"required"`
	Semester    int              `json:"semester" validate:"required,min=1,max=8"`
	Shift       string           `json:"shift" validate:"required"`
	Session     string           `json:"session" validate:"required"`
	DayOfWeek   string           `json:"day_of_week" validate:"required"`
	StartMinute int              `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int              `json:"end_minute" validate:"min=1,max=1440"`
	SubjectCode string           `json:"subject_code" validate:"required"`
	SubjectName string           `json:"subject_name" validate:"required"`
	ClassType   models.ClassType `json:"class_type" validate:"required,oneof=THEORY LAB"`
	LabName     *string          `json:"lab_name,omitempty"`
	TeacherID   *string          `json:"teacher_id,omitempty"`
	Room        string           `json:"room" validate:"required"`
}

// RoutineService owns timetable mutations. Every create and update passes
// the interval-overlap conflict check before it persists.
type RoutineService struct {
	repo      routineRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRoutineService constructs the service.
func NewRoutineService(repo routineRepository, validate *validator.Validate, logger *zap.Logger) *RoutineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RoutineService{repo: repo, validator: validate, logger: logger}
}

// Create validates, checks conflicts and persists a new routine.
func (s *RoutineService) Create(ctx context.Context, req RoutineRequest) (*models.Routine, error) {
	routine, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.DetectConflicts(ctx, *routine, "")
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, &models.RoutineConflictError{Conflicts: conflicts}
	}
	if err := s.repo.Create(ctx, routine); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create routine")
	}
	s.logger.Info("routine created",
		zap.String("routine_id", routine.ID),
		zap.String("day", routine.DayOfWeek),
		zap.String("room", routine.Room))
	return routine, nil
}

// Update re-runs the conflict check excluding the routine itself.
func (s *RoutineService) Update(ctx context.Context, id string, req RoutineRequest) (*models.Routine, error) {
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "routine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load routine")
	}

	routine, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	routine.ID = existing.ID
	routine.CreatedAt = existing.CreatedAt
	routine.IsActive = existing.IsActive

	conflicts, err := s.DetectConflicts(ctx, *routine, existing.ID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, &models.RoutineConflictError{Conflicts: conflicts}
	}
	if err := s.repo.Update(ctx, routine); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "routine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update routine")
	}
	return routine, nil
}

// Delete soft-deactivates a routine.
func (s *RoutineService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "routine not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete routine")
	}
	return nil
}

// Get returns one routine.
func (s *RoutineService) Get(ctx context.Context, id string) (*models.Routine, error) {
	routine, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "routine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load routine")
	}
	return routine, nil
}

// List returns the filtered timetable in display order.
func (s *RoutineService) List(ctx context.Context, filter models.RoutineFilter) ([]models.Routine, error) {
	routines, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list routines")
	}
	return routines, nil
}

// CheckConflicts runs the conflict scan for a proposed slot without
// persisting anything.
func (s *RoutineService) CheckConflicts(ctx context.Context, req RoutineRequest, excludeID string) ([]models.RoutineConflict, error) {
	routine, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	return s.DetectConflicts(ctx, *routine, excludeID)
}

// DetectConflicts scans active routines on the same day for room, teacher
// and cohort clashes against the half-open interval of the candidate.
func (s *RoutineService) DetectConflicts(ctx context.Context, candidate models.Routine, excludeID string) ([]models.RoutineConflict, error) {
	sameDay, err := s.repo.ListActiveByDay(ctx, candidate.DayOfWeek)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan routines")
	}

	var conflicts []models.RoutineConflict
	for _, other := range sameDay {
		if excludeID != "" && other.ID == excludeID {
			continue
		}
		if !candidate.Overlaps(other) {
			continue
		}
		overlap := overlapMinutes(candidate, other)
		if strings.EqualFold(candidate.Room, other.Room) {
			conflicts = append(conflicts, models.RoutineConflict{
				Kind: models.ConflictRoom,
				Message: fmt.Sprintf("Room %s is occupied by %s (%s-%s)",
					other.Room, other.SubjectName, formatMinute(other.StartMinute), formatMinute(other.EndMinute)),
				Routine:        other,
				OverlapMinutes: overlap,
				Suggestions:    []string{"Change room number", "Change class time", "Choose another day"},
			})
		}
		if candidate.TeacherID != nil && other.TeacherID != nil && *candidate.TeacherID == *other.TeacherID {
			conflicts = append(conflicts, models.RoutineConflict{
				Kind: models.ConflictTeacher,
				Message: fmt.Sprintf("Teacher is already assigned to %s (%s-%s)",
					other.SubjectName, formatMinute(other.StartMinute), formatMinute(other.EndMinute)),
				Routine:        other,
				OverlapMinutes: overlap,
				Suggestions:    []string{"Assign another teacher", "Change class time", "Choose another day"},
			})
		}
		if candidate.SameCohort(other) {
			conflicts = append(conflicts, models.RoutineConflict{
				Kind: models.ConflictCohort,
				Message: fmt.Sprintf("This class group already has %s (%s-%s)",
					other.SubjectName, formatMinute(other.StartMinute), formatMinute(other.EndMinute)),
				Routine:        other,
				OverlapMinutes: overlap,
				Suggestions:    []string{"Change class time", "Choose another day", "Change shift"},
			})
		}
	}
	return conflicts, nil
}

func (s *RoutineService) prepare(req RoutineRequest) (*models.Routine, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid routine payload")
	}

	day := strings.ToUpper(strings.TrimSpace(req.DayOfWeek))
	valid := false
	for _, allowed := range models.RoutineDays {
		if day == allowed {
			valid = true
			break
		}
	}
	if !valid {
		return nil, appErrors.WithField(appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("day must be one of %s", strings.Join(models.RoutineDays, ", "))), "day_of_week")
	}
	if req.EndMinute <= req.StartMinute {
		return nil, appErrors.WithField(appErrors.Clone(appErrors.ErrValidation, "end time must be after start time"), "end_minute")
	}
	if req.EndMinute-req.StartMinute < minClassMinutes {
		return nil, appErrors.WithField(appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("a class must run at least %d minutes", minClassMinutes)), "end_minute")
	}
	if req.ClassType == models.ClassLab && (req.LabName == nil || strings.TrimSpace(*req.LabName) == "") {
		return nil, appErrors.WithField(appErrors.Clone(appErrors.ErrValidation, "lab classes require a lab name"), "lab_name")
	}

	return &models.Routine{
		Department:  strings.ToLower(strings.TrimSpace(req.Department)),
		Semester:    req.Semester,
		Shift:       strings.ToLower(strings.TrimSpace(req.Shift)),
		Session:     strings.ToLower(strings.TrimSpace(req.Session)),
		DayOfWeek:   day,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
		SubjectCode: strings.TrimSpace(req.SubjectCode),
		SubjectName: strings.TrimSpace(req.SubjectName),
		ClassType:   req.ClassType,
		LabName:     req.LabName,
		TeacherID:   req.TeacherID,
		Room:        strings.TrimSpace(req.Room),
	}, nil
}

func overlapMinutes(a, b models.Routine) int {
	start := a.StartMinute
	if b.StartMinute > start {
		start = b.StartMinute
	}
	end := a.EndMinute
	if b.EndMinute < end {
		end = b.EndMinute
	}
	if end <= start {
		return 0
	}
	return end - start
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
