package docstore

import (
	"context"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/student"
)

type studentRepo struct {
	store core.DocStore
}

var _ student.Repository = (*studentRepo)(nil)

func NewStudentRepository(store core.DocStore) student.Repository {
	return &studentRepo{store: store}
}

func (repo *studentRepo) CreateStudent(ctx context.Context, std student.Student) (student.Student, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	if err := repo.store.Set(ctx, core.ColStudents, std.ID, studentDoc(std)); err != nil {
		return student.Student{}, wrapErr(err)
	}
	return std, nil
}

func (repo *studentRepo) CreateStudents(ctx context.Context, stds []student.Student) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	batch := repo.store.Batch()
	for _, std := range stds {
		batch.Set(core.ColStudents, std.ID, studentDoc(std))
	}
	return wrapErr(batch.Commit(ctx))
}

func (repo *studentRepo) GetStudent(ctx context.Context, id string) (student.Student, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	doc, err := repo.store.Get(ctx, core.ColStudents, id)
	if err != nil {
		if err == core.ErrDocNotFound {
			return student.Student{}, student.ErrNotFound
		}
		return student.Student{}, wrapErr(err)
	}
	return docToStudent(doc), nil
}

func (repo *studentRepo) QueryAllStudents(ctx context.Context) ([]student.Student, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColStudents, nil,
		core.Ordering{Field: "last_name", Ascending: true},
		core.Ordering{Field: "first_name", Ascending: true},
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	stds := make([]student.Student, 0, len(docs))
	for _, doc := range docs {
		stds = append(stds, docToStudent(doc))
	}
	return stds, nil
}

func (repo *studentRepo) UpdateStudent(ctx context.Context, std student.Student) (student.Student, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	partial := map[string]interface{}{
		"first_name": std.FirstName,
		"last_name":  std.LastName,
		"career":     std.Career,
		"group":      std.Group,
		"semester":   std.Semester,
		"shift":      std.Shift,
		"updated_at": core.FormatTime(std.UpdatedAt),
	}
	if err := repo.store.Update(ctx, core.ColStudents, std.ID, partial); err != nil {
		if err == core.ErrDocNotFound {
			return student.Student{}, student.ErrNotFound
		}
		return student.Student{}, wrapErr(err)
	}
	doc, err := repo.store.Get(ctx, core.ColStudents, std.ID)
	if err != nil {
		return student.Student{}, wrapErr(err)
	}
	return docToStudent(doc), nil
}

func (repo *studentRepo) DeleteStudentsByID(ctx context.Context, ids ...string) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	batch := repo.store.Batch()
	for _, id := range ids {
		batch.Delete(core.ColStudents, id)
	}
	return wrapErr(batch.Commit(ctx))
}

func studentDoc(std student.Student) map[string]interface{} {
	return map[string]interface{}{
		"first_name": std.FirstName,
		"last_name":  std.LastName,
		"career":     std.Career,
		"group":      std.Group,
		"semester":   std.Semester,
		"shift":      std.Shift,
		"created_at": core.FormatTime(std.CreatedAt),
		"updated_at": core.FormatTime(std.UpdatedAt),
	}
}

func docToStudent(doc core.Document) student.Student {
	return student.Student{
		ID:        doc.ID,
		FirstName: doc.String("first_name"),
		LastName:  doc.String("last_name"),
		Career:    doc.String("career"),
		Group:     doc.String("group"),
		Semester:  doc.String("semester"),
		Shift:     doc.String("shift"),
		CreatedAt: doc.Time("created_at"),
		UpdatedAt: doc.Time("updated_at"),
	}
}
