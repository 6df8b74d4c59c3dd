// Package memory хранилище в памяти для тестов и демо-режима (IPV_STORAGE=memory).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// table строки в порядке вставки
type table[T any] struct {
	rows  map[string]T
	order []string
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) put(id string, v T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = v
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

func (t *table[T]) del(id string) {
	if _, ok := t.rows[id]; !ok {
		return
	}
	delete(t.rows, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *table[T]) each(fn func(T)) {
	for _, id := range t.order {
		fn(t.rows[id])
	}
}

func (t *table[T]) clone(cp func(T) T) *table[T] {
	out := &table[T]{rows: make(map[string]T, len(t.rows)), order: append([]string(nil), t.order...)}
	for id, v := range t.rows {
		out.rows[id] = cp(v)
	}
	return out
}

type dataset struct {
	uoms       *table[models.UoM]
	products   *table[models.Product]
	locations  *table[models.Location]
	boms       *table[models.BOM]
	bomLines   *table[models.BOMLine]
	quants     *table[models.Quant]
	moves      *table[models.StockMove]
	moveLines  *table[models.StockMoveLine]
	pickings   *table[models.Picking]
	workplaces *table[models.Workplace]
	ipvs       *table[models.IPV]
	lines      *table[models.IPVLine]
	users      *table[models.User]
	sequences  map[string]models.Sequence
}

func newDataset() *dataset {
	return &dataset{
		uoms:       newTable[models.UoM](),
		products:   newTable[models.Product](),
		locations:  newTable[models.Location](),
		boms:       newTable[models.BOM](),
		bomLines:   newTable[models.BOMLine](),
		quants:     newTable[models.Quant](),
		moves:      newTable[models.StockMove](),
		moveLines:  newTable[models.StockMoveLine](),
		pickings:   newTable[models.Picking](),
		workplaces: newTable[models.Workplace](),
		ipvs:       newTable[models.IPV](),
		lines:      newTable[models.IPVLine](),
		users:      newTable[models.User](),
		sequences:  make(map[string]models.Sequence),
	}
}

func (d *dataset) clone() *dataset {
	seqs := make(map[string]models.Sequence, len(d.sequences))
	for k, v := range d.sequences {
		seqs[k] = v
	}
	return &dataset{
		uoms:       d.uoms.clone(same[models.UoM]),
		products:   d.products.clone(cloneProduct),
		locations:  d.locations.clone(cloneLocation),
		boms:       d.boms.clone(cloneBOM),
		bomLines:   d.bomLines.clone(same[models.BOMLine]),
		quants:     d.quants.clone(same[models.Quant]),
		moves:      d.moves.clone(cloneMove),
		moveLines:  d.moveLines.clone(same[models.StockMoveLine]),
		pickings:   d.pickings.clone(clonePicking),
		workplaces: d.workplaces.clone(cloneWorkplace),
		ipvs:       d.ipvs.clone(cloneIPV),
		lines:      d.lines.clone(cloneLine),
		users:      d.users.clone(same[models.User]),
		sequences:  seqs,
	}
}

type state struct {
	mu   sync.RWMutex
	data *dataset
}

// Store хранилище в памяти. Транзакции верхнего уровня сериализуются,
// откат восстанавливает снимок данных.
type Store struct {
	st   *state
	txMu *sync.Mutex
	inTx bool
}

// New создает пустое хранилище
func New() *Store {
	return &Store{
		st:   &state{data: newDataset()},
		txMu: &sync.Mutex{},
	}
}

// WithinTx выполняет fn над снимком; при ошибке или панике данные восстанавливаются
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if !s.inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}

	s.st.mu.RLock()
	snapshot := s.st.data.clone()
	s.st.mu.RUnlock()

	restore := func() {
		s.st.mu.Lock()
		s.st.data = snapshot
		s.st.mu.Unlock()
	}

	defer func() {
		if r := recover(); r != nil {
			restore()
			panic(r)
		}
	}()

	tx := &Store{st: s.st, txMu: s.txMu, inTx: true}
	if err = fn(tx); err != nil {
		restore()
	}
	return err
}

func (s *Store) read(fn func(d *dataset)) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	fn(s.st.data)
}

func (s *Store) write(fn func(d *dataset)) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	fn(s.st.data)
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

func touch(created, updated *time.Time) {
	now := time.Now().UTC()
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// ----- UoM -----

func (s *Store) GetUoM(ctx context.Context, id string) (*models.UoM, error) {
	var out *models.UoM
	s.read(func(d *dataset) {
		if v, ok := d.uoms.get(id); ok {
			out = &v
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) ListUoMs(ctx context.Context) ([]models.UoM, error) {
	var out []models.UoM
	s.read(func(d *dataset) {
		d.uoms.each(func(v models.UoM) { out = append(out, v) })
	})
	return out, nil
}

func (s *Store) SaveUoM(ctx context.Context, u *models.UoM) error {
	ensureID(&u.ID)
	touch(&u.CreatedAt, &u.UpdatedAt)
	s.write(func(d *dataset) { d.uoms.put(u.ID, *u) })
	return nil
}

// ----- Product -----

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var out *models.Product
	s.read(func(d *dataset) {
		if v, ok := d.products.get(id); ok {
			c := cloneProduct(v)
			out = &c
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	s.read(func(d *dataset) {
		d.products.each(func(v models.Product) { out = append(out, cloneProduct(v)) })
	})
	return out, nil
}

func (s *Store) SaveProduct(ctx context.Context, p *models.Product) error {
	ensureID(&p.ID)
	touch(&p.CreatedAt, &p.UpdatedAt)
	s.write(func(d *dataset) { d.products.put(p.ID, cloneProduct(*p)) })
	return nil
}

// ----- Location -----

func (s *Store) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	var out *models.Location
	s.read(func(d *dataset) {
		if v, ok := d.locations.get(id); ok {
			c := cloneLocation(v)
			out = &c
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) ListLocations(ctx context.Context) ([]models.Location, error) {
	var out []models.Location
	s.read(func(d *dataset) {
		d.locations.each(func(v models.Location) { out = append(out, cloneLocation(v)) })
	})
	return out, nil
}

func (s *Store) ListChildLocations(ctx context.Context, parentID string) ([]models.Location, error) {
	var out []models.Location
	s.read(func(d *dataset) {
		d.locations.each(func(v models.Location) {
			if v.ParentID != nil && *v.ParentID == parentID {
				out = append(out, cloneLocation(v))
			}
		})
	})
	return out, nil
}

func (s *Store) FindSublocation(ctx context.Context, parentID, productID string) (*models.Location, error) {
	var out *models.Location
	s.read(func(d *dataset) {
		d.locations.each(func(v models.Location) {
			if out != nil || v.ParentID == nil || v.ProductID == nil {
				return
			}
			if *v.ParentID == parentID && *v.ProductID == productID {
				c := cloneLocation(v)
				out = &c
			}
		})
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) FindLocationByUsage(ctx context.Context, usage models.LocationUsage) (*models.Location, error) {
	var out *models.Location
	s.read(func(d *dataset) {
		d.locations.each(func(v models.Location) {
			if out == nil && v.Usage == usage {
				c := cloneLocation(v)
				out = &c
			}
		})
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) SaveLocation(ctx context.Context, l *models.Location) error {
	ensureID(&l.ID)
	touch(&l.CreatedAt, &l.UpdatedAt)
	s.write(func(d *dataset) { d.locations.put(l.ID, cloneLocation(*l)) })
	return nil
}

// ----- BOM -----

func bomWithLines(d *dataset, b models.BOM) models.BOM {
	b = cloneBOM(b)
	d.bomLines.each(func(l models.BOMLine) {
		if l.BOMID == b.ID {
			b.Lines = append(b.Lines, l)
		}
	})
	sort.SliceStable(b.Lines, func(i, j int) bool { return b.Lines[i].Sequence < b.Lines[j].Sequence })
	return b
}

func (s *Store) GetBOM(ctx context.Context, id string) (*models.BOM, error) {
	var out *models.BOM
	s.read(func(d *dataset) {
		if v, ok := d.boms.get(id); ok {
			b := bomWithLines(d, v)
			out = &b
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) FindBOMs(ctx context.Context, productID string) ([]models.BOM, error) {
	var out []models.BOM
	s.read(func(d *dataset) {
		d.boms.each(func(v models.BOM) {
			if v.ProductID == productID && v.IsActive {
				out = append(out, bomWithLines(d, v))
			}
		})
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *Store) SaveBOM(ctx context.Context, b *models.BOM) error {
	ensureID(&b.ID)
	touch(&b.CreatedAt, &b.UpdatedAt)
	for i := range b.Lines {
		ensureID(&b.Lines[i].ID)
		b.Lines[i].BOMID = b.ID
	}
	s.write(func(d *dataset) {
		var stale []string
		d.bomLines.each(func(l models.BOMLine) {
			if l.BOMID == b.ID {
				stale = append(stale, l.ID)
			}
		})
		for _, id := range stale {
			d.bomLines.del(id)
		}
		for _, l := range b.Lines {
			d.bomLines.put(l.ID, l)
		}
		d.boms.put(b.ID, cloneBOM(*b))
	})
	return nil
}

// ----- Quant -----

func (s *Store) ListQuants(ctx context.Context, f repository.QuantFilter) ([]models.Quant, error) {
	var out []models.Quant
	s.read(func(d *dataset) {
		d.quants.each(func(q models.Quant) {
			if f.ProductID != "" && q.ProductID != f.ProductID {
				return
			}
			if f.LocationIDs != nil && !contains(f.LocationIDs, q.LocationID) {
				return
			}
			out = append(out, q)
		})
	})
	return out, nil
}

func (s *Store) SaveQuant(ctx context.Context, q *models.Quant) error {
	ensureID(&q.ID)
	touch(nil, &q.UpdatedAt)
	s.write(func(d *dataset) { d.quants.put(q.ID, *q) })
	return nil
}

// ----- Moves -----

func (s *Store) GetMove(ctx context.Context, id string) (*models.StockMove, error) {
	var out *models.StockMove
	s.read(func(d *dataset) {
		if v, ok := d.moves.get(id); ok {
			c := cloneMove(v)
			out = &c
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func matchMove(m models.StockMove, f repository.MoveFilter) bool {
	if f.IPVID != "" && (m.IPVID == nil || *m.IPVID != f.IPVID) {
		return false
	}
	if f.IPVLineID != "" && (m.IPVLineID == nil || *m.IPVLineID != f.IPVLineID) {
		return false
	}
	if f.PickingID != "" && (m.PickingID == nil || *m.PickingID != f.PickingID) {
		return false
	}
	if f.ProductID != "" && m.ProductID != f.ProductID {
		return false
	}
	if len(f.States) > 0 {
		for _, st := range f.States {
			if m.State == st {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Store) ListMoves(ctx context.Context, f repository.MoveFilter) ([]models.StockMove, error) {
	var out []models.StockMove
	s.read(func(d *dataset) {
		d.moves.each(func(m models.StockMove) {
			if matchMove(m, f) {
				out = append(out, cloneMove(m))
			}
		})
	})
	return out, nil
}

func (s *Store) SaveMove(ctx context.Context, m *models.StockMove) error {
	ensureID(&m.ID)
	touch(&m.CreatedAt, &m.UpdatedAt)
	s.write(func(d *dataset) { d.moves.put(m.ID, cloneMove(*m)) })
	return nil
}

func (s *Store) DeleteMove(ctx context.Context, id string) error {
	s.write(func(d *dataset) {
		var lines []string
		d.moveLines.each(func(l models.StockMoveLine) {
			if l.MoveID == id {
				lines = append(lines, l.ID)
			}
		})
		for _, lid := range lines {
			d.moveLines.del(lid)
		}
		d.moves.del(id)
	})
	return nil
}

func (s *Store) ListMoveLines(ctx context.Context, moveID string) ([]models.StockMoveLine, error) {
	var out []models.StockMoveLine
	s.read(func(d *dataset) {
		d.moveLines.each(func(l models.StockMoveLine) {
			if l.MoveID == moveID {
				out = append(out, l)
			}
		})
	})
	return out, nil
}

func (s *Store) SaveMoveLine(ctx context.Context, l *models.StockMoveLine) error {
	ensureID(&l.ID)
	touch(&l.CreatedAt, nil)
	s.write(func(d *dataset) { d.moveLines.put(l.ID, *l) })
	return nil
}

func (s *Store) DeleteMoveLine(ctx context.Context, id string) error {
	s.write(func(d *dataset) { d.moveLines.del(id) })
	return nil
}

// ----- Picking -----

func (s *Store) GetPicking(ctx context.Context, id string) (*models.Picking, error) {
	var out *models.Picking
	s.read(func(d *dataset) {
		if v, ok := d.pickings.get(id); ok {
			c := clonePicking(v)
			out = &c
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) SavePicking(ctx context.Context, p *models.Picking) error {
	ensureID(&p.ID)
	touch(&p.CreatedAt, &p.UpdatedAt)
	s.write(func(d *dataset) { d.pickings.put(p.ID, clonePicking(*p)) })
	return nil
}

func (s *Store) DeletePicking(ctx context.Context, id string) error {
	s.write(func(d *dataset) { d.pickings.del(id) })
	return nil
}

// ----- Workplace -----

func (s *Store) GetWorkplace(ctx context.Context, id string) (*models.Workplace, error) {
	var out *models.Workplace
	s.read(func(d *dataset) {
		if v, ok := d.workplaces.get(id); ok {
			c := cloneWorkplace(v)
			out = &c
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) ListWorkplaces(ctx context.Context) ([]models.Workplace, error) {
	var out []models.Workplace
	s.read(func(d *dataset) {
		d.workplaces.each(func(v models.Workplace) { out = append(out, cloneWorkplace(v)) })
	})
	return out, nil
}

func (s *Store) SaveWorkplace(ctx context.Context, w *models.Workplace) error {
	ensureID(&w.ID)
	touch(&w.CreatedAt, &w.UpdatedAt)
	s.write(func(d *dataset) { d.workplaces.put(w.ID, cloneWorkplace(*w)) })
	return nil
}

// ----- IPV -----

func (s *Store) GetIPV(ctx context.Context, id string) (*models.IPV, error) {
	var out *models.IPV
	s.read(func(d *dataset) {
		if v, ok := d.ipvs.get(id); ok {
			c := cloneIPV(v)
			out = &c
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

// LockIPV в памяти блокировка обеспечивается сериализацией транзакций
func (s *Store) LockIPV(ctx context.Context, id string) (*models.IPV, error) {
	return s.GetIPV(ctx, id)
}

func (s *Store) ListIPVs(ctx context.Context, f repository.IPVFilter) ([]models.IPV, error) {
	var out []models.IPV
	s.read(func(d *dataset) {
		for i := len(d.ipvs.order) - 1; i >= 0; i-- {
			v := d.ipvs.rows[d.ipvs.order[i]]
			if f.WorkplaceID != "" && (v.WorkplaceID == nil || *v.WorkplaceID != f.WorkplaceID) {
				continue
			}
			if f.State != "" && v.State != f.State {
				continue
			}
			out = append(out, cloneIPV(v))
			if f.Limit > 0 && len(out) >= f.Limit {
				return
			}
		}
	})
	return out, nil
}

func (s *Store) FindLastClosedIPV(ctx context.Context, workplaceID string) (*models.IPV, error) {
	var out *models.IPV
	s.read(func(d *dataset) {
		d.ipvs.each(func(v models.IPV) {
			if v.DateClose == nil || v.WorkplaceID == nil || *v.WorkplaceID != workplaceID {
				return
			}
			if out == nil || !v.DateClose.Before(*out.DateClose) {
				c := cloneIPV(v)
				out = &c
			}
		})
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) SaveIPV(ctx context.Context, ipv *models.IPV) error {
	ensureID(&ipv.ID)
	touch(&ipv.CreatedAt, &ipv.UpdatedAt)
	s.write(func(d *dataset) { d.ipvs.put(ipv.ID, cloneIPV(*ipv)) })
	return nil
}

func (s *Store) DeleteIPV(ctx context.Context, id string) error {
	s.write(func(d *dataset) { d.ipvs.del(id) })
	return nil
}

// ----- Lines -----

func (s *Store) GetLine(ctx context.Context, id string) (*models.IPVLine, error) {
	var out *models.IPVLine
	s.read(func(d *dataset) {
		if v, ok := d.lines.get(id); ok {
			c := cloneLine(v)
			out = &c
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) ListLines(ctx context.Context, ipvID string) ([]models.IPVLine, error) {
	var out []models.IPVLine
	s.read(func(d *dataset) {
		d.lines.each(func(v models.IPVLine) {
			if v.IPVID == ipvID {
				out = append(out, cloneLine(v))
			}
		})
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *Store) SaveLine(ctx context.Context, l *models.IPVLine) error {
	ensureID(&l.ID)
	touch(&l.CreatedAt, &l.UpdatedAt)
	s.write(func(d *dataset) { d.lines.put(l.ID, cloneLine(*l)) })
	return nil
}

func (s *Store) DeleteLine(ctx context.Context, id string) error {
	s.write(func(d *dataset) { d.lines.del(id) })
	return nil
}

// ----- Users -----

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var out *models.User
	s.read(func(d *dataset) {
		if v, ok := d.users.get(id); ok {
			out = &v
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	var out *models.User
	s.read(func(d *dataset) {
		d.users.each(func(v models.User) {
			if out == nil && v.Login == login {
				u := v
				out = &u
			}
		})
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	ensureID(&u.ID)
	touch(&u.CreatedAt, &u.UpdatedAt)
	s.write(func(d *dataset) { d.users.put(u.ID, *u) })
	return nil
}

// ----- Sequence -----

func (s *Store) NextSequence(ctx context.Context, code, prefix string) (string, error) {
	var out string
	s.write(func(d *dataset) {
		seq, ok := d.sequences[code]
		if !ok {
			seq = models.Sequence{Code: code, Prefix: prefix, Padding: 5, NextNumber: 1}
		}
		out = repository.FormatSequence(seq.Prefix, seq.Padding, seq.NextNumber)
		seq.NextNumber++
		d.sequences[code] = seq
	})
	return out, nil
}
