package docstore

import (
	"context"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/session"
)

type sessionRepo struct {
	store core.DocStore
}

var _ session.Repository = (*sessionRepo)(nil)

func NewSessionRepository(store core.DocStore) session.Repository {
	return &sessionRepo{store: store}
}

// GetState returns the singleton state document for a kind, or an
// inactive zero state when none has been written yet.
func (repo *sessionRepo) GetState(ctx context.Context, kind session.Kind) (session.State, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	doc, err := repo.store.Get(ctx, core.ColSessions, string(kind))
	if err != nil {
		if err == core.ErrDocNotFound {
			return session.State{Kind: kind}, nil
		}
		return session.State{}, wrapErr(err)
	}
	return docToState(kind, doc), nil
}

func (repo *sessionRepo) SaveState(ctx context.Context, st session.State) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	return wrapErr(repo.store.Set(ctx, core.ColSessions, string(st.Kind), stateDoc(st)))
}

func (repo *sessionRepo) LiveRecords(ctx context.Context, kind session.Kind) ([]session.Record, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColAttendance,
		[]core.Filter{core.Eq("kind", string(kind))},
		core.Ordering{Field: "checked_in_at", Ascending: true},
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	recs := make([]session.Record, 0, len(docs))
	for _, doc := range docs {
		recs = append(recs, docToRecord(doc))
	}
	return recs, nil
}

// WatchLiveRecords streams decoded live-log snapshots; the returned
// channel closes when ctx is done. No store timeout applies here, the
// subscription lives as long as the caller.
func (repo *sessionRepo) WatchLiveRecords(ctx context.Context, kind session.Kind) (<-chan []session.Record, error) {
	docsCh, err := repo.store.Subscribe(ctx, core.ColAttendance, []core.Filter{core.Eq("kind", string(kind))})
	if err != nil {
		return nil, wrapErr(err)
	}

	out := make(chan []session.Record, 1)
	go func() {
		defer close(out)
		for docs := range docsCh {
			recs := make([]session.Record, 0, len(docs))
			for _, doc := range docs {
				recs = append(recs, docToRecord(doc))
			}
			select {
			case out <- recs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (repo *sessionRepo) CreateRecord(ctx context.Context, rec session.Record) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	return wrapErr(repo.store.Set(ctx, core.ColAttendance, rec.ID, recordDoc(rec)))
}

func (repo *sessionRepo) GetRecord(ctx context.Context, id string) (session.Record, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	doc, err := repo.store.Get(ctx, core.ColAttendance, id)
	if err != nil {
		if err == core.ErrDocNotFound {
			return session.Record{}, session.ErrRecordNotFound
		}
		return session.Record{}, wrapErr(err)
	}
	return docToRecord(doc), nil
}

func (repo *sessionRepo) DeleteRecordsByID(ctx context.Context, ids ...string) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	batch := repo.store.Batch()
	for _, id := range ids {
		batch.Delete(core.ColAttendance, id)
	}
	return wrapErr(batch.Commit(ctx))
}

// SaveArchive writes the archive document and its class-information
// summary in one atomic batch.
func (repo *sessionRepo) SaveArchive(ctx context.Context, arc session.Archive) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	batch := repo.store.Batch()
	batch.Set(core.ColArchives, arc.ID, archiveDoc(arc))
	batch.Set(core.ColClassInfo, arc.ID, classInfoDoc(arc))
	return wrapErr(batch.Commit(ctx))
}

func (repo *sessionRepo) ClearPendingPurge(ctx context.Context, archiveID string) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	err := repo.store.Update(ctx, core.ColArchives, archiveID, map[string]interface{}{"pending_purge": false})
	if err == core.ErrDocNotFound {
		return session.ErrArchiveNotFound
	}
	return wrapErr(err)
}

func (repo *sessionRepo) PendingArchives(ctx context.Context, kind session.Kind) ([]session.Archive, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColArchives, []core.Filter{
		core.Eq("kind", string(kind)),
		core.Eq("pending_purge", true),
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return docsToArchives(docs), nil
}

func (repo *sessionRepo) QueryArchives(ctx context.Context, kind session.Kind) ([]session.Archive, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	var filters []core.Filter
	if kind != "" {
		filters = append(filters, core.Eq("kind", string(kind)))
	}
	docs, err := repo.store.Query(ctx, core.ColArchives, filters,
		core.Ordering{Field: "end_time", Ascending: false},
	)
	if err != nil {
		return nil, wrapErr(err)
	}
	return docsToArchives(docs), nil
}

func (repo *sessionRepo) GetArchive(ctx context.Context, id string) (session.Archive, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	doc, err := repo.store.Get(ctx, core.ColArchives, id)
	if err != nil {
		if err == core.ErrDocNotFound {
			return session.Archive{}, session.ErrArchiveNotFound
		}
		return session.Archive{}, wrapErr(err)
	}
	return docToArchive(doc), nil
}

// ---- codecs ----

func stateDoc(st session.State) map[string]interface{} {
	return map[string]interface{}{
		"session_id":    st.SessionID,
		"active":        st.Active,
		"practice_id":   st.PracticeID,
		"subject_name":  st.SubjectName,
		"teacher_id":    st.TeacherID,
		"start_time":    core.FormatTime(st.StartTime),
		"end_time":      core.FormatTime(st.EndTime),
		"auto_repaired": st.AutoRepaired,
	}
}

func docToState(kind session.Kind, doc core.Document) session.State {
	return session.State{
		Kind:         kind,
		SessionID:    doc.String("session_id"),
		Active:       doc.Bool("active"),
		PracticeID:   doc.String("practice_id"),
		SubjectName:  doc.String("subject_name"),
		TeacherID:    doc.String("teacher_id"),
		StartTime:    doc.Time("start_time"),
		EndTime:      doc.Time("end_time"),
		AutoRepaired: doc.Bool("auto_repaired"),
	}
}

func recordDoc(rec session.Record) map[string]interface{} {
	return map[string]interface{}{
		"session_id":    rec.SessionID,
		"kind":          string(rec.Kind),
		"student_id":    rec.StudentID,
		"first_name":    rec.FirstName,
		"last_name":     rec.LastName,
		"equipment_id":  rec.EquipmentID,
		"career":        rec.Career,
		"group":         rec.Group,
		"semester":      rec.Semester,
		"shift":         rec.Shift,
		"checked_in_at": core.FormatTime(rec.CheckedInAt),
	}
}

func docToRecord(doc core.Document) session.Record {
	return session.Record{
		ID:          doc.ID,
		SessionID:   doc.String("session_id"),
		Kind:        session.Kind(doc.String("kind")),
		StudentID:   doc.String("student_id"),
		FirstName:   doc.String("first_name"),
		LastName:    doc.String("last_name"),
		EquipmentID: doc.String("equipment_id"),
		Career:      doc.String("career"),
		Group:       doc.String("group"),
		Semester:    doc.String("semester"),
		Shift:       doc.String("shift"),
		CheckedInAt: doc.Time("checked_in_at"),
	}
}

func archiveDoc(arc session.Archive) map[string]interface{} {
	students := make([]interface{}, 0, len(arc.Students))
	for _, rec := range arc.Students {
		data := recordDoc(rec)
		data["id"] = rec.ID
		students = append(students, data)
	}
	return map[string]interface{}{
		"kind":             string(arc.Kind),
		"subject_name":     arc.SubjectName,
		"practice_title":   arc.PracticeTitle,
		"date":             arc.Date,
		"start_time":       core.FormatTime(arc.StartTime),
		"end_time":         core.FormatTime(arc.EndTime),
		"teacher_id":       arc.Teacher.ID,
		"teacher_first":    arc.Teacher.FirstName,
		"teacher_last":     arc.Teacher.LastName,
		"total_attendance": arc.TotalAttendance,
		"students":         students,
		"pending_purge":    arc.PendingPurge,
	}
}

// classInfoDoc is the lightweight listing row kept alongside the full
// archive for history views.
func classInfoDoc(arc session.Archive) map[string]interface{} {
	return map[string]interface{}{
		"kind":             string(arc.Kind),
		"subject_name":     arc.SubjectName,
		"practice_title":   arc.PracticeTitle,
		"date":             arc.Date,
		"start_time":       core.FormatTime(arc.StartTime),
		"end_time":         core.FormatTime(arc.EndTime),
		"teacher_name":     arc.Teacher.FirstName + " " + arc.Teacher.LastName,
		"total_attendance": arc.TotalAttendance,
	}
}

func docToArchive(doc core.Document) session.Archive {
	arc := session.Archive{
		ID:              doc.ID,
		Kind:            session.Kind(doc.String("kind")),
		SubjectName:     doc.String("subject_name"),
		PracticeTitle:   doc.String("practice_title"),
		Date:            doc.String("date"),
		StartTime:       doc.Time("start_time"),
		EndTime:         doc.Time("end_time"),
		TotalAttendance: doc.Int("total_attendance"),
		PendingPurge:    doc.Bool("pending_purge"),
		Teacher: session.TeacherInfo{
			ID:        doc.String("teacher_id"),
			FirstName: doc.String("teacher_first"),
			LastName:  doc.String("teacher_last"),
		},
	}
	raw, _ := doc.Data["students"].([]interface{})
	for _, item := range raw {
		data, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rec := core.Document{Data: data}
		decoded := docToRecord(rec)
		decoded.ID = rec.String("id")
		arc.Students = append(arc.Students, decoded)
	}
	return arc
}

func docsToArchives(docs []core.Document) []session.Archive {
	arcs := make([]session.Archive, 0, len(docs))
	for _, doc := range docs {
		arcs = append(arcs, docToArchive(doc))
	}
	return arcs
}
