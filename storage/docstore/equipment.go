package docstore

import (
	"context"
	"sort"
	"strconv"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/equipment"
)

type equipmentRepo struct {
	store core.DocStore
}

var _ equipment.Repository = (*equipmentRepo)(nil)

func NewEquipmentRepository(store core.DocStore) equipment.Repository {
	return &equipmentRepo{store: store}
}

func (repo *equipmentRepo) GetUnit(ctx context.Context, id string) (equipment.Unit, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	doc, err := repo.store.Get(ctx, core.ColEquipment, id)
	if err != nil {
		if err == core.ErrDocNotFound {
			return equipment.Unit{}, equipment.ErrUnitNotFound
		}
		return equipment.Unit{}, wrapErr(err)
	}
	return docToUnit(doc), nil
}

func (repo *equipmentRepo) ListUnits(ctx context.Context) ([]equipment.Unit, error) {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColEquipment, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	units := make([]equipment.Unit, 0, len(docs))
	for _, doc := range docs {
		units = append(units, docToUnit(doc))
	}
	// ids are numeric strings; lexical store order would yield 1, 10, 2
	sort.Slice(units, func(i, j int) bool {
		a, _ := strconv.Atoi(units[i].ID)
		b, _ := strconv.Atoi(units[j].ID)
		if a != b {
			return a < b
		}
		return units[i].ID < units[j].ID
	})
	return units, nil
}

func (repo *equipmentRepo) SaveUnit(ctx context.Context, unit equipment.Unit) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	return wrapErr(repo.store.Set(ctx, core.ColEquipment, unit.ID, unitDoc(unit)))
}

func (repo *equipmentRepo) SaveUnits(ctx context.Context, units []equipment.Unit) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	batch := repo.store.Batch()
	for _, unit := range units {
		batch.Set(core.ColEquipment, unit.ID, unitDoc(unit))
	}
	return wrapErr(batch.Commit(ctx))
}

// ReplaceUnits swaps the whole roster in one batch: every existing unit
// document is deleted and the new ones written.
func (repo *equipmentRepo) ReplaceUnits(ctx context.Context, units []equipment.Unit) error {
	ctx, cancel := storeCtx(ctx)
	defer cancel()

	docs, err := repo.store.Query(ctx, core.ColEquipment, nil)
	if err != nil {
		return wrapErr(err)
	}
	batch := repo.store.Batch()
	for _, doc := range docs {
		batch.Delete(core.ColEquipment, doc.ID)
	}
	for _, unit := range units {
		batch.Set(core.ColEquipment, unit.ID, unitDoc(unit))
	}
	return wrapErr(batch.Commit(ctx))
}

func unitDoc(unit equipment.Unit) map[string]interface{} {
	return map[string]interface{}{
		"out_of_service": unit.OutOfService,
		"in_use":         unit.InUse,
	}
}

func docToUnit(doc core.Document) equipment.Unit {
	return equipment.Unit{
		ID:           doc.ID,
		OutOfService: doc.Bool("out_of_service"),
		InUse:        doc.Bool("in_use"),
	}
}
