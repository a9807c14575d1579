package subject

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/labtrack/labtrack/core"
)

var (
	ErrNotFound         = errors.New("subject not found")
	ErrPracticeNotFound = errors.New("practice not found")
)

type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Practice is one scheduled lab exercise belonging to a Subject.
type Practice struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

type NewSubject struct {
	Name string `json:"name" validate:"required"`
}

func (ns *NewSubject) Validate() error {
	ns.Name = core.CleanString(ns.Name)
	return core.Validate.Struct(ns)
}

type NewPractice struct {
	Number int    `json:"number" validate:"required,min=1"`
	Title  string `json:"title" validate:"required"`
}

func (np *NewPractice) Validate() error {
	np.Title = core.CleanString(np.Title)
	return core.Validate.Struct(np)
}

type (
	Repository interface {
		CreateSubject(ctx context.Context, sub Subject) (Subject, error)
		GetSubject(ctx context.Context, id string) (Subject, error)
		QueryAllSubjects(ctx context.Context) ([]Subject, error)
		UpdateSubject(ctx context.Context, sub Subject) (Subject, error)
		DeleteSubjectsByID(ctx context.Context, ids ...string) error

		CreatePractice(ctx context.Context, prac Practice) (Practice, error)
		GetPractice(ctx context.Context, id string) (Practice, error)
		QueryPracticesBySubject(ctx context.Context, subjectID string) ([]Practice, error)
		DeletePracticesByID(ctx context.Context, ids ...string) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, ns NewSubject) (Subject, error) {
	now := time.Now().UTC()
	return svc.repo.CreateSubject(ctx, Subject{
		ID:        uuid.New().String(),
		Name:      ns.Name,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *Service) QueryAll(ctx context.Context) ([]Subject, error) {
	return svc.repo.QueryAllSubjects(ctx)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Subject, error) {
	return svc.repo.GetSubject(ctx, id)
}

func (svc *Service) Rename(ctx context.Context, id, name string) (Subject, error) {
	sub, err := svc.repo.GetSubject(ctx, id)
	if err != nil {
		return Subject{}, err
	}
	sub.Name = core.CleanString(name)
	sub.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateSubject(ctx, sub)
}

// Delete removes subjects along with their practices.
func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		pracs, err := svc.repo.QueryPracticesBySubject(ctx, id)
		if err != nil {
			return err
		}
		pracIDs := make([]string, 0, len(pracs))
		for _, p := range pracs {
			pracIDs = append(pracIDs, p.ID)
		}
		if len(pracIDs) > 0 {
			if err := svc.repo.DeletePracticesByID(ctx, pracIDs...); err != nil {
				return err
			}
		}
	}
	return svc.repo.DeleteSubjectsByID(ctx, ids...)
}

func (svc *Service) AddPractice(ctx context.Context, subjectID string, np NewPractice) (Practice, error) {
	if _, err := svc.repo.GetSubject(ctx, subjectID); err != nil {
		return Practice{}, err
	}
	return svc.repo.CreatePractice(ctx, Practice{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Number:    np.Number,
		Title:     np.Title,
		CreatedAt: time.Now().UTC(),
	})
}

func (svc *Service) GetPractice(ctx context.Context, id string) (Practice, error) {
	return svc.repo.GetPractice(ctx, id)
}

func (svc *Service) QueryPractices(ctx context.Context, subjectID string) ([]Practice, error) {
	return svc.repo.QueryPracticesBySubject(ctx, subjectID)
}

func (svc *Service) DeletePractice(ctx context.Context, id string) error {
	return svc.repo.DeletePracticesByID(ctx, id)
}
