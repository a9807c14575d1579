package docstore

import (
	"context"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/subject"
)

type subjectRepo struct {
	store core.DocStore
}

var _ subject.Repository = (*subjectRepo)(nil)

func NewSubjectRepository(store core.DocStore) subject.Repository {
	return &subjectRepo{store: store}
}

func (repo *subjectRepo) CreateSubject(ctx context.Context, sub subject.Subject) (subject.Subject, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	if err := repo.store.Set(ctx, core.ColSubjects, sub.ID, subjectDoc(sub)); err != nil {
		return subject.Subject{}, wrapErr(err)
	}
	return sub, nil
}

func (repo *subjectRepo) GetSubject(ctx context.Context, id string) (subject.Subject, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	doc, err := repo.store.Get(ctx, core.ColSubjects, id)
	if err != nil {
		if err == core.ErrDocNotFound {
			return subject.Subject{}, subject.ErrNotFound
		}
		return subject.Subject{}, wrapErr(err)
	}
	return docToSubject(doc), nil
}

func (repo *subjectRepo) QueryAllSubjects(ctx context.Context) ([]subject.Subject, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColSubjects, nil, core.Ordering{Field: "name", Ascending: true})
	if err != nil {
		return nil, wrapErr(err)
	}
	subs := make([]subject.Subject, 0, len(docs))
	for _, doc := range docs {
		subs = append(subs, docToSubject(doc))
	}
	return subs, nil
}

func (repo *subjectRepo) UpdateSubject(ctx context.Context, sub subject.Subject) (subject.Subject, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	partial := map[string]interface{}{
		"name":       sub.Name,
		"updated_at": core.FormatTime(sub.UpdatedAt),
	}
	if err := repo.store.Update(ctx, core.ColSubjects, sub.ID, partial); err != nil {
		if err == core.ErrDocNotFound {
			return subject.Subject{}, subject.ErrNotFound
		}
		return subject.Subject{}, wrapErr(err)
	}
	return sub, nil
}

func (repo *subjectRepo) DeleteSubjectsByID(ctx context.Context, ids ...string) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	batch := repo.store.Batch()
	for _, id := range ids {
		batch.Delete(core.ColSubjects, id)
	}
	return wrapErr(batch.Commit(ctx))
}

func (repo *subjectRepo) CreatePractice(ctx context.Context, prac subject.Practice) (subject.Practice, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	if err := repo.store.Set(ctx, core.ColPractices, prac.ID, practiceDoc(prac)); err != nil {
		return subject.Practice{}, wrapErr(err)
	}
	return prac, nil
}

func (repo *subjectRepo) GetPractice(ctx context.Context, id string) (subject.Practice, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	doc, err := repo.store.Get(ctx, core.ColPractices, id)
	if err != nil {
		if err == core.ErrDocNotFound {
			return subject.Practice{}, subject.ErrPracticeNotFound
		}
		return subject.Practice{}, wrapErr(err)
	}
	return docToPractice(doc), nil
}

func (repo *subjectRepo) QueryPracticesBySubject(ctx context.Context, subjectID string) ([]subject.Practice, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColPractices,
		[]core.Filter{core.Eq("subject_id", subjectID)},
		core.Ordering{Field: "number", Ascending: true},
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	pracs := make([]subject.Practice, 0, len(docs))
	for _, doc := range docs {
		pracs = append(pracs, docToPractice(doc))
	}
	return pracs, nil
}

func (repo *subjectRepo) DeletePracticesByID(ctx context.Context, ids ...string) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	batch := repo.store.Batch()
	for _, id := range ids {
		batch.Delete(core.ColPractices, id)
	}
	return wrapErr(batch.Commit(ctx))
}

func subjectDoc(sub subject.Subject) map[string]interface{} {
	return map[string]interface{}{
		"name":       sub.Name,
		"created_at": core.FormatTime(sub.CreatedAt),
		"updated_at": core.FormatTime(sub.UpdatedAt),
	}
}

func docToSubject(doc core.Document) subject.Subject {
	return subject.Subject{
		ID:        doc.ID,
		Name:      doc.String("name"),
		CreatedAt: doc.Time("created_at"),
		UpdatedAt: doc.Time("updated_at"),
	}
}

func practiceDoc(prac subject.Practice) map[string]interface{} {
	return map[string]interface{}{
		"subject_id": prac.SubjectID,
		"number":     prac.Number,
		"title":      prac.Title,
		"created_at": core.FormatTime(prac.CreatedAt),
	}
}

func docToPractice(doc core.Document) subject.Practice {
	return subject.Practice{
		ID:        doc.ID,
		SubjectID: doc.String("subject_id"),
		Number:    doc.Int("number"),
		Title:     doc.String("title"),
		CreatedAt: doc.Time("created_at"),
	}
}
