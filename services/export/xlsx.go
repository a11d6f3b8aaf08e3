package exportsvc

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/core/planner"
)

const (
	RosterSheet     = "Roster"
	AttendanceSheet = "Attendance"

	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var attendanceTotals = []planner.AttendanceStatus{planner.Present, planner.Absent, planner.Tardy}

// WriteAttendance writes an XLSX workbook of class to w: a roster sheet with the students' status tags, and an
// attendance sheet with one column per recorded date.
func WriteAttendance(w io.Writer, class planner.ClassRoom) error {
	f, err := attendanceWorkbook(class)
	if err != nil {
		return errors.Wrap(err, "building workbook")
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	return nil
}

// Filename returns the download name of the export of class.
func Filename(class planner.ClassRoom) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, class.Name)
	if name == "" {
		name = class.ID
	}
	return fmt.Sprintf("attendance_%s.xlsx", name)
}

func attendanceWorkbook(class planner.ClassRoom) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), RosterSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(AttendanceSheet); err != nil {
		f.Close()
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E0E0E0"}},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := writeRoster(f, class, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeAttendance(f, class, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeRoster(f *excelize.File, class planner.ClassRoom, headerStyle int) error {
	info := [][]interface{}{
		{"Class", class.Name},
		{"Grade", string(class.Grade)},
		{"Schedule", string(class.Schedule)},
	}
	for i, row := range info {
		if err := setRow(f, RosterSheet, i+1, row); err != nil {
			return err
		}
	}

	header := []interface{}{"Student"}
	groups := planner.Catalog()
	for _, g := range groups {
		header = append(header, g.Label)
	}
	headerRow := len(info) + 2
	if err := setRow(f, RosterSheet, headerRow, header); err != nil {
		return err
	}
	if err := f.SetRowStyle(RosterSheet, headerRow, headerRow, headerStyle); err != nil {
		return err
	}

	for i, s := range class.Students {
		row := []interface{}{s.Name}
		for _, g := range groups {
			labels := make([]string, 0, len(g.Tags))
			for _, tag := range g.Tags {
				if s.HasStatus(tag.Key) {
					labels = append(labels, tag.Label)
				}
			}
			row = append(row, strings.Join(labels, ", "))
		}
		if err := setRow(f, RosterSheet, headerRow+1+i, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(RosterSheet, "A", lastCol(len(header)), 24)
}

func writeAttendance(f *excelize.File, class planner.ClassRoom, headerStyle int) error {
	dates := class.Dates()
	header := []interface{}{"Student"}
	for _, d := range dates {
		header = append(header, d)
	}
	for _, st := range attendanceTotals {
		header = append(header, statusLabel(st))
	}
	if err := setRow(f, AttendanceSheet, 1, header); err != nil {
		return err
	}
	if err := f.SetRowStyle(AttendanceSheet, 1, 1, headerStyle); err != nil {
		return err
	}

	for i, s := range class.Students {
		counts := make(map[planner.AttendanceStatus]int, len(attendanceTotals))
		row := []interface{}{s.Name}
		for _, d := range dates {
			st := class.Attendance[d][s.ID]
			counts[st]++
			row = append(row, string(st))
		}
		for _, st := range attendanceTotals {
			row = append(row, counts[st])
		}
		if err := setRow(f, AttendanceSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(AttendanceSheet, "A", "A", 24); err != nil {
		return err
	}
	return f.SetPanes(AttendanceSheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      1,
		TopLeftCell: "B2",
		ActivePane:  "bottomRight",
	})
}

func statusLabel(st planner.AttendanceStatus) string {
	if st == planner.Unset {
		return ""
	}
	return strings.ToUpper(string(st[:1])) + string(st[1:])
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func lastCol(n int) string {
	name, _ := excelize.ColumnNumberToName(n)
	return name
}

// ReadRoster reads student names from the first column of the first sheet of an XLSX workbook.
// The first row is a header and is skipped, as are blank names.
func ReadRoster(r io.Reader) ([]planner.NewStudent, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "opening workbook")
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("workbook does not contain any sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sheet %q", sheet)
	}

	students := make([]planner.NewStudent, 0, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if name := core.CleanString(row[0]); name != "" {
			students = append(students, planner.NewStudent{Name: name})
		}
	}
	return students, nil
}
