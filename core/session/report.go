package session

import (
	"bytes"
	"encoding/csv"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// BuildReportCSV renders an archived session as a CSV attendance sheet,
// one row per checked-in student.
func BuildReportCSV(arc Archive) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)

	rows := [][]string{
		{"matric", "first_name", "last_name", "equipment", "career", "group", "semester", "shift", "checked_in_at"},
	}
	for _, rec := range arc.Students {
		rows = append(rows, []string{
			rec.StudentID,
			rec.FirstName,
			rec.LastName,
			rec.EquipmentID,
			rec.Career,
			rec.Group,
			rec.Semester,
			rec.Shift,
			rec.CheckedInAt.Format(time.RFC3339),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, pkgerrors.Wrap(err, "writing report csv")
	}
	return buf, nil
}
