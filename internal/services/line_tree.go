package services

import (
	"sort"

	"github.com/lib/pq"

	"stockipv/server/internal/models"
)

// lineTree строки смены, индексированные по ID, со ссылками на родителей
// (общее сырье может принадлежать нескольким готовым продуктам)
type lineTree struct {
	nodes    map[string]*models.IPVLine
	children map[string][]string
	order    []string
}

func newLineTree(lines []models.IPVLine) (*lineTree, error) {
	t := &lineTree{
		nodes:    make(map[string]*models.IPVLine, len(lines)),
		children: make(map[string][]string),
	}
	sorted := append([]models.IPVLine(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	for i := range sorted {
		l := sorted[i]
		t.nodes[l.ID] = &l
		t.order = append(t.order, l.ID)
	}
	for _, id := range t.order {
		l := t.nodes[id]
		for _, p := range l.Parents() {
			if err := t.checkAncestors(id, p); err != nil {
				return nil, err
			}
			t.children[p] = append(t.children[p], id)
		}
	}
	return t, nil
}

// checkAncestors обходит всех предков parentID; встретили id - цикл
func (t *lineTree) checkAncestors(id, parentID string) error {
	seen := make(map[string]bool)
	stack := []string{parentID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == id {
			return userErr(ErrLineRecursion, "строка %s", id)
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if p, ok := t.nodes[cur]; ok {
			stack = append(stack, p.Parents()...)
		}
	}
	return nil
}

// insert добавляет строку (ID уже назначен) в конец
func (t *lineTree) insert(l *models.IPVLine) error {
	if l.ParentID != nil && len(l.ParentIDs) == 0 {
		l.ParentIDs = pq.StringArray{*l.ParentID}
	}
	parents := l.Parents()
	for _, p := range parents {
		if _, ok := t.nodes[p]; !ok {
			return userErr(ErrLineRecursion, "родительская строка %s не найдена", p)
		}
		if err := t.checkAncestors(l.ID, p); err != nil {
			return err
		}
	}
	if l.Sequence == 0 {
		l.Sequence = t.nextSequence()
	}
	t.nodes[l.ID] = l
	t.order = append(t.order, l.ID)
	for _, p := range parents {
		t.children[p] = append(t.children[p], l.ID)
	}
	return nil
}

// attach добавляет строке еще одного родителя
func (t *lineTree) attach(id, parentID string) error {
	l, ok := t.nodes[id]
	if !ok {
		return nil
	}
	if _, ok := t.nodes[parentID]; !ok {
		return userErr(ErrLineRecursion, "родительская строка %s не найдена", parentID)
	}
	if contains(l.Parents(), parentID) {
		return nil
	}
	if err := t.checkAncestors(id, parentID); err != nil {
		return err
	}
	if l.ParentID == nil {
		l.ParentID = &parentID
	}
	l.ParentIDs = append(pq.StringArray(l.Parents()), parentID)
	t.children[parentID] = append(t.children[parentID], id)
	return nil
}

// reparent переносит строку от основного родителя под parentID,
// остальные родители сохраняются
func (t *lineTree) reparent(id, parentID string) error {
	l, ok := t.nodes[id]
	if !ok {
		return nil
	}
	if _, ok := t.nodes[parentID]; !ok {
		return userErr(ErrLineRecursion, "родительская строка %s не найдена", parentID)
	}
	if err := t.checkAncestors(id, parentID); err != nil {
		return err
	}
	parents := append([]string(nil), l.Parents()...)
	if l.ParentID != nil {
		t.children[*l.ParentID] = without(t.children[*l.ParentID], id)
		parents = without(parents, *l.ParentID)
	}
	if !contains(parents, parentID) {
		t.children[parentID] = append(t.children[parentID], id)
	}
	parents = without(parents, parentID)
	l.ParentID = &parentID
	l.ParentIDs = append(pq.StringArray{parentID}, parents...)
	return nil
}

// detach отвязывает строку от родителя; у основного родителя есть
// преемник - строка переносится под него. Последнего родителя не снимает.
func (t *lineTree) detach(id, parentID string) error {
	l, ok := t.nodes[id]
	if !ok {
		return nil
	}
	parents := l.Parents()
	if !contains(parents, parentID) || len(parents) < 2 {
		return nil
	}
	if l.ParentID != nil && *l.ParentID == parentID {
		return t.reparent(id, parents[1])
	}
	t.children[parentID] = without(t.children[parentID], id)
	l.ParentIDs = pq.StringArray(without(parents, parentID))
	return nil
}

// remove удаляет строку с потомками, возвращает удаленные ID (сначала потомки)
func (t *lineTree) remove(id string) []string {
	l, ok := t.nodes[id]
	if !ok {
		return nil
	}
	var removed []string
	for _, c := range append([]string(nil), t.children[id]...) {
		removed = append(removed, t.remove(c)...)
	}
	for _, p := range l.Parents() {
		t.children[p] = without(t.children[p], id)
	}
	delete(t.children, id)
	delete(t.nodes, id)
	t.order = without(t.order, id)
	return append(removed, id)
}

func (t *lineTree) get(id string) *models.IPVLine {
	return t.nodes[id]
}

func (t *lineTree) childrenOf(id string) []*models.IPVLine {
	out := make([]*models.IPVLine, 0, len(t.children[id]))
	for _, c := range t.children[id] {
		out = append(out, t.nodes[c])
	}
	return out
}

// all строки в порядке Sequence
func (t *lineTree) all() []*models.IPVLine {
	out := make([]*models.IPVLine, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

func (t *lineTree) roots() []*models.IPVLine {
	var out []*models.IPVLine
	for _, id := range t.order {
		if t.nodes[id].ParentID == nil {
			out = append(out, t.nodes[id])
		}
	}
	return out
}

// postOrder потомки раньше родителей, общее сырье один раз
func (t *lineTree) postOrder() []*models.IPVLine {
	var out []*models.IPVLine
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, c := range t.children[id] {
			walk(c)
		}
		out = append(out, t.nodes[id])
	}
	for _, r := range t.roots() {
		walk(r.ID)
	}
	return out
}

func (t *lineTree) nextSequence() int {
	max := 0
	for _, l := range t.nodes {
		if l.Sequence > max {
			max = l.Sequence
		}
	}
	return max + 1
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
