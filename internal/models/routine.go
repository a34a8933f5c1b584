package models

import "time"

// ClassType distinguishes theory classes from lab sessions.
type ClassType string

const (
	ClassTheory ClassType = "THEORY"
	ClassLab    ClassType = "LAB"
)

// RoutineDays is the allowed teaching week, Sunday through Thursday.
var RoutineDays = []string{"SUN", "MON", "TUE", "WED", "THU"}

// Routine is one weekly class slot for a cohort. Start and end are minutes
// since midnight; the interval is half-open [start, end).
type Routine struct {
	ID          string    `db:"id" json:"id"`
	Department  string    `db:"department" json:"department"`
	Semester    int       `db:"semester" json:"semester"`
	Shift       string    `db:"shift" json:"shift"`
	Session     string    `db:"session" json:"session"`
	DayOfWeek   string    `db:"day_of_week" json:"day_of_week"`
	StartMinute int       `db:"start_minute" json:"start_minute"`
	EndMinute   int       `db:"end_minute" json:"end_minute"`
	SubjectCode string    `db:"subject_code" json:"subject_code"`
	SubjectName string    `db:"subject_name" json:"subject_name"`
	ClassType   ClassType `db:"class_type" json:"class_type"`
	LabName     *string   `db:"lab_name" json:"lab_name,omitempty"`
	TeacherID   *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	Room        string    `db:"room" json:"room"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// SameCohort reports whether two routines belong to the same class group.
// A cohort is identified by (department, semester, shift).
func (r Routine) SameCohort(other Routine) bool {
	return r.Department == other.Department &&
		r.Semester == other.Semester &&
		r.Shift == other.Shift
}

// Overlaps reports whether the half-open intervals of two routines overlap.
func (r Routine) Overlaps(other Routine) bool {
	return r.StartMinute < other.EndMinute && other.StartMinute < r.EndMinute
}

// RoutineConflictKind names the resource dimension of a clash.
type RoutineConflictKind string

const (
	ConflictRoom    RoutineConflictKind = "room"
	ConflictTeacher RoutineConflictKind = "teacher"
	ConflictCohort  RoutineConflictKind = "cohort"
)

// RoutineConflict describes one clash with an existing routine.
type RoutineConflict struct {
	Kind           RoutineConflictKind `json:"kind"`
	Message        string              `json:"message"`
	Routine        Routine             `json:"routine"`
	OverlapMinutes int                 `json:"overlap_minutes"`
	Suggestions    []string            `json:"suggestions"`
}

// RoutineConflictError carries all detected clashes for a proposed routine.
type RoutineConflictError struct {
	Conflicts []RoutineConflict `json:"conflicts"`
}

// Error implements the error interface.
func (e *RoutineConflictError) Error() string {
	if e == nil || len(e.Conflicts) == 0 {
		return "routine conflict"
	}
	return e.Conflicts[0].Message
}

// RoutineFilter narrows routine listings.
type RoutineFilter struct {
	Department string
	Semester   int
	Shift      string
	Session    string
	DayOfWeek  string
	Active     *bool
}
