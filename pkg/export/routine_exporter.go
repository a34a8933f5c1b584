package export

import (
	"fmt"
	"sort"

	"github.com/edupoint/slms-api/internal/models"
)

var routineHeaders = []string{"Day", "Start", "End", "Subject Code", "Subject", "Type", "Room", "Department", "Semester", "Shift", "Session"}

var dayOrder = map[string]int{"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4}

// RoutineExporter renders a timetable to CSV or PDF.
type RoutineExporter struct {
	csv *CSVExporter
	pdf *PDFExporter
}

// NewRoutineExporter constructs the exporter.
func NewRoutineExporter() *RoutineExporter {
	return &RoutineExporter{csv: NewCSVExporter(), pdf: NewPDFExporter()}
}

func routineDataset(routines []models.Routine) Dataset {
	sorted := make([]models.Routine, len(routines))
	copy(sorted, routines)
	sort.Slice(sorted, func(i, j int) bool {
		if dayOrder[sorted[i].DayOfWeek] != dayOrder[sorted[j].DayOfWeek] {
			return dayOrder[sorted[i].DayOfWeek] < dayOrder[sorted[j].DayOfWeek]
		}
		return sorted[i].StartMinute < sorted[j].StartMinute
	})

	rows := make([]map[string]string, 0, len(sorted))
	for _, r := range sorted {
		room := r.Room
		if r.ClassType == models.ClassLab && r.LabName != nil {
			room = fmt.Sprintf("%s (%s)", r.Room, *r.LabName)
		}
		rows = append(rows, map[string]string{
			"Day":          r.DayOfWeek,
			"Start":        minuteClock(r.StartMinute),
			"End":          minuteClock(r.EndMinute),
			"Subject Code": r.SubjectCode,
			"Subject":      r.SubjectName,
			"Type":         string(r.ClassType),
			"Room":         room,
			"Department":   r.Department,
			"Semester":     fmt.Sprintf("%d", r.Semester),
			"Shift":        r.Shift,
			"Session":      r.Session,
		})
	}
	return Dataset{Headers: routineHeaders, Rows: rows}
}

// CSV renders the timetable as CSV bytes.
func (e *RoutineExporter) CSV(routines []models.Routine) ([]byte, error) {
	return e.csv.Render(routineDataset(routines))
}

// PDF renders the timetable as a tabular PDF.
func (e *RoutineExporter) PDF(routines []models.Routine) ([]byte, error) {
	return e.pdf.Render(routineDataset(routines), "Class Routine")
}

func minuteClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
