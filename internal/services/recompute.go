package services

import (
	"context"
	"fmt"
)

// Вычисляемые поля смены и их зависимости
const (
	fieldMoveState    = "move.state"
	fieldQuant        = "quant.quantity"
	fieldRequestQty   = "line.request_qty"
	fieldInitialStock = "line.initial_stock_qty"
	fieldLineState    = "line.state"
	fieldOnHand       = "line.on_hand_qty"
	fieldConsumed     = "line.consumed_qty"
	fieldPickingState = "picking.state"
	fieldIPVState     = "ipv.state"
	fieldShowCheck    = "ipv.show_check_availability"
	fieldShowValidate = "ipv.show_validate"
)

type computeFunc func(ctx context.Context, s *turnSession) error

type fieldNode struct {
	name    string
	deps    []string
	compute computeFunc // nil - входное поле
}

// fieldGraph граф зависимостей вычисляемых полей
type fieldGraph struct {
	nodes      map[string]*fieldNode
	dependents map[string][]string
	order      []string // топологический порядок
}

func newFieldGraph(nodes ...fieldNode) (*fieldGraph, error) {
	g := &fieldGraph{
		nodes:      make(map[string]*fieldNode, len(nodes)),
		dependents: make(map[string][]string),
	}
	var declared []string
	for i := range nodes {
		n := nodes[i]
		if _, dup := g.nodes[n.name]; dup {
			return nil, fmt.Errorf("поле %s объявлено дважды", n.name)
		}
		g.nodes[n.name] = &n
		declared = append(declared, n.name)
	}

	indegree := make(map[string]int, len(nodes))
	for _, name := range declared {
		for _, dep := range g.nodes[name].deps {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("поле %s зависит от неизвестного поля %s", name, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], name)
			indegree[name]++
		}
	}

	// Kahn: при равенстве сохраняем порядок объявления
	var queue []string
	for _, name := range declared {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		g.order = append(g.order, name)
		for _, next := range g.dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(g.order) != len(declared) {
		return nil, fmt.Errorf("цикл в зависимостях вычисляемых полей")
	}
	return g, nil
}

// affected поля, которые нужно пересчитать после изменения dirty, в топологическом порядке
func (g *fieldGraph) affected(dirty ...string) []string {
	mark := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if mark[name] {
			return
		}
		mark[name] = true
		for _, next := range g.dependents[name] {
			visit(next)
		}
	}
	for _, name := range dirty {
		visit(name)
	}
	var out []string
	for _, name := range g.order {
		if mark[name] && g.nodes[name].compute != nil {
			out = append(out, name)
		}
	}
	return out
}

func (g *fieldGraph) run(ctx context.Context, s *turnSession, dirty ...string) error {
	for _, name := range g.affected(dirty...) {
		if err := g.nodes[name].compute(ctx, s); err != nil {
			return fmt.Errorf("ошибка вычисления %s: %w", name, err)
		}
	}
	return nil
}

// allInputs все входные поля (полный пересчет)
func (g *fieldGraph) allInputs() []string {
	var out []string
	for _, name := range g.order {
		if g.nodes[name].compute == nil {
			out = append(out, name)
		}
	}
	return out
}

var turnFields *fieldGraph

func init() {
	turnFields = mustFieldGraph(
		fieldNode{name: fieldMoveState},
		fieldNode{name: fieldQuant},
		fieldNode{name: fieldRequestQty},
		fieldNode{name: fieldInitialStock},
		fieldNode{name: fieldLineState, deps: []string{fieldMoveState}, compute: computeLineStates},
		fieldNode{name: fieldOnHand, deps: []string{fieldQuant}, compute: computeOnHand},
		fieldNode{name: fieldConsumed, deps: []string{fieldOnHand, fieldRequestQty, fieldInitialStock}, compute: computeConsumed},
		fieldNode{name: fieldPickingState, deps: []string{fieldMoveState}, compute: computePickingState},
		fieldNode{name: fieldIPVState, deps: []string{fieldLineState, fieldRequestQty}, compute: computeIPVState},
		fieldNode{name: fieldShowCheck, deps: []string{fieldIPVState, fieldMoveState}, compute: computeShowCheck},
		fieldNode{name: fieldShowValidate, deps: []string{fieldIPVState, fieldMoveState}, compute: computeShowValidate},
	)
}

func mustFieldGraph(nodes ...fieldNode) *fieldGraph {
	g, err := newFieldGraph(nodes...)
	if err != nil {
		panic(err)
	}
	return g
}
