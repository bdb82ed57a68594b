// Package roster renders class rosters as spreadsheets for studio staff.
package roster

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"rhythmflow.app/internal/booking"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	SheetName   = "Roster"

	// first row of the student table; rows above hold the class summary
	tableRow = 6
)

var tableHeader = []any{"#", "Student ID", "Name", "Email", "Enrolled At (UTC)"}

// WriteXLSX writes r as a single-sheet workbook.
func WriteXLSX(w io.Writer, r booking.Roster) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}
	summary := [][]any{
		{"Class", r.Class.Title},
		{"Level", string(r.Class.Level)},
		{"Teacher", r.Class.Teacher},
		{"Schedule", fmt.Sprintf("%s - %s", r.Class.StartTime.UTC().Format(time.RFC3339), r.Class.EndTime.UTC().Format(time.RFC3339))},
		{"Spots", fmt.Sprintf("%d / %d", r.Occupancy, r.Class.Capacity)},
	}
	for i, row := range summary {
		if err := setRow(f, i+1, row); err != nil {
			return err
		}
	}
	if err := setRow(f, tableRow, tableHeader); err != nil {
		return err
	}
	for i, e := range r.Entries {
		row := []any{i + 1, e.Student.ID, e.Student.FullName, e.Student.Email, e.Enrollment.EnrollmentDate.UTC().Format("2006-01-02 15:04")}
		if err := setRow(f, tableRow+1+i, row); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", "A5", bold); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, fmt.Sprintf("A%d", tableRow), fmt.Sprintf("E%d", tableRow), bold); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "B", "E", 24); err != nil {
		return err
	}
	return f.Write(w)
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(SheetName, cell, &values)
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

// Filename builds a download name such as "roster-salsa-for-beginners-2026-10-26.xlsx".
func Filename(c booking.DanceClass) string {
	slug := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(c.Title), "-"), "-")
	if slug == "" {
		slug = c.ID
	}
	return fmt.Sprintf("roster-%s-%s.xlsx", slug, c.StartTime.UTC().Format("2006-01-02"))
}
