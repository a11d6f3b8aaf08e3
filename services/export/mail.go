package exportsvc

import (
	"bytes"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/core/planner"
)

const attendanceTemplate = "attendance_export"

type AttendanceMailData struct {
	ClassName string
	Students  int
	Dates     int
}

// AttendanceMessage returns an email to `to` carrying the XLSX attendance export of class.
func AttendanceMessage(class planner.ClassRoom, to mail.Address) (*core.EmailMessage, error) {
	var buf bytes.Buffer
	if err := WriteAttendance(&buf, class); err != nil {
		return nil, err
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      "Attendance of " + class.Name,
		TemplateName: attendanceTemplate,
		TemplateData: AttendanceMailData{
			ClassName: class.Name,
			Students:  len(class.Students),
			Dates:     len(class.Dates()),
		},
	}
	if err := msg.Attach(&buf, Filename(class), XLSXContentType); err != nil {
		return nil, errors.Wrap(err, "attaching export")
	}
	return msg, nil
}
