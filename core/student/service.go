package student

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/labtrack/labtrack/core"
)

var (
	ErrNotFound = errors.New("student not found")
	ErrExists   = errors.New("a student with this matriculation number already exists")
)

// Student is identified by their matriculation number.
type Student struct {
	ID        string    `json:"id"` // matriculation number
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Career    string    `json:"career"`
	Group     string    `json:"group"`
	Semester  string    `json:"semester"`
	Shift     string    `json:"shift"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

type NewStudent struct {
	ID        string `json:"id" validate:"required,matric"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Career    string `json:"career" validate:"required"`
	Group     string `json:"group" validate:"required"`
	Semester  string `json:"semester" validate:"required"`
	Shift     string `json:"shift" validate:"required"`
}

func (ns *NewStudent) Validate() error {
	ns.ID = core.CleanString(ns.ID)
	ns.FirstName = core.CleanString(ns.FirstName)
	ns.LastName = core.CleanString(ns.LastName)
	ns.Career = core.CleanString(ns.Career)
	ns.Group = core.CleanString(ns.Group)
	ns.Semester = core.CleanString(ns.Semester)
	ns.Shift = core.CleanString(ns.Shift)
	return core.Validate.Struct(ns)
}

type UpdateStudent struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Career    string `json:"career"`
	Group     string `json:"group"`
	Semester  string `json:"semester"`
	Shift     string `json:"shift"`
}

func (us *UpdateStudent) Validate(orig Student) error {
	merge := func(val *string, fallback string) {
		if cleaned := core.CleanString(*val); cleaned != "" {
			*val = cleaned
		} else {
			*val = fallback
		}
	}
	merge(&us.FirstName, orig.FirstName)
	merge(&us.LastName, orig.LastName)
	merge(&us.Career, orig.Career)
	merge(&us.Group, orig.Group)
	merge(&us.Semester, orig.Semester)
	merge(&us.Shift, orig.Shift)
	return core.Validate.Struct(us)
}

type (
	Repository interface {
		CreateStudent(ctx context.Context, std Student) (Student, error)
		CreateStudents(ctx context.Context, stds []Student) error // one atomic batch
		GetStudent(ctx context.Context, id string) (Student, error)
		QueryAllStudents(ctx context.Context) ([]Student, error)
		UpdateStudent(ctx context.Context, std Student) (Student, error)
		DeleteStudentsByID(ctx context.Context, ids ...string) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, ns NewStudent) (Student, error) {
	if _, err := svc.repo.GetStudent(ctx, ns.ID); err == nil {
		return Student{}, core.NewValidationError(ErrExists, core.FieldError{Field: "id", Error: ErrExists.Error()})
	} else if err != ErrNotFound {
		return Student{}, err
	}

	now := time.Now().UTC()
	std := Student{
		ID:        ns.ID,
		FirstName: ns.FirstName,
		LastName:  ns.LastName,
		Career:    ns.Career,
		Group:     ns.Group,
		Semester:  ns.Semester,
		Shift:     ns.Shift,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateStudent(ctx, std)
}

func (svc *Service) QueryAll(ctx context.Context) ([]Student, error) {
	return svc.repo.QueryAllStudents(ctx)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, core.CleanString(id))
}

func (svc *Service) Update(ctx context.Context, id string, us UpdateStudent) (Student, error) {
	std := Student{
		ID:        id,
		FirstName: us.FirstName,
		LastName:  us.LastName,
		Career:    us.Career,
		Group:     us.Group,
		Semester:  us.Semester,
		Shift:     us.Shift,
		UpdatedAt: time.Now().UTC(),
	}
	return svc.repo.UpdateStudent(ctx, std)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteStudentsByID(ctx, ids...)
}

// ImportCSV bulk-creates students from CSV rows of the form
// matric,first_name,last_name,career,group,semester,shift (header optional).
// The whole file is written in one atomic batch; a bad row aborts the import.
func (svc *Service) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "reading csv")
	}

	now := time.Now().UTC()
	stds := make([]Student, 0, len(rows))
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "matric" {
			continue // header
		}
		if len(row) < 7 {
			return 0, pkgerrors.Errorf("row %d: expected 7 columns, got %d", i+1, len(row))
		}
		ns := NewStudent{
			ID:        row[0],
			FirstName: row[1],
			LastName:  row[2],
			Career:    row[3],
			Group:     row[4],
			Semester:  row[5],
			Shift:     row[6],
		}
		if err := ns.Validate(); err != nil {
			return 0, pkgerrors.Wrapf(err, "row %d", i+1)
		}
		stds = append(stds, Student{
			ID:        ns.ID,
			FirstName: ns.FirstName,
			LastName:  ns.LastName,
			Career:    ns.Career,
			Group:     ns.Group,
			Semester:  ns.Semester,
			Shift:     ns.Shift,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(stds) == 0 {
		return 0, nil
	}
	return len(stds), svc.repo.CreateStudents(ctx, stds)
}
