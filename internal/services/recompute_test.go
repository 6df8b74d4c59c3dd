package services

import (
	"context"
	"reflect"
	"testing"
)

func TestFieldGraphTopologicalOrder(t *testing.T) {
	var calls []string
	rec := func(name string) computeFunc {
		return func(ctx context.Context, s *turnSession) error {
			calls = append(calls, name)
			return nil
		}
	}
	g, err := newFieldGraph(
		fieldNode{name: "c", deps: []string{"b"}, compute: rec("c")},
		fieldNode{name: "a"},
		fieldNode{name: "b", deps: []string{"a"}, compute: rec("b")},
		fieldNode{name: "x"},
		fieldNode{name: "y", deps: []string{"x"}, compute: rec("y")},
	)
	if err != nil {
		t.Fatalf("newFieldGraph: %v", err)
	}

	if err := g.run(context.Background(), nil, "a"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []string{"b", "c"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}

	if got := g.allInputs(); !reflect.DeepEqual(got, []string{"a", "x"}) {
		t.Errorf("allInputs = %v", got)
	}
}

func TestFieldGraphRejectsCycle(t *testing.T) {
	_, err := newFieldGraph(
		fieldNode{name: "a", deps: []string{"b"}},
		fieldNode{name: "b", deps: []string{"a"}},
	)
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestFieldGraphUnknownDependency(t *testing.T) {
	if _, err := newFieldGraph(fieldNode{name: "a", deps: []string{"ghost"}}); err == nil {
		t.Fatal("expected unknown dependency error")
	}
}

func TestTurnFieldsOrder(t *testing.T) {
	got := turnFields.affected(fieldMoveState)
	pos := make(map[string]int)
	for i, name := range got {
		pos[name] = i
	}
	if pos[fieldLineState] > pos[fieldIPVState] {
		t.Errorf("line state must be computed before turn state: %v", got)
	}
	if _, ok := pos[fieldOnHand]; ok {
		t.Errorf("on hand does not depend on move state: %v", got)
	}

	got = turnFields.affected(fieldQuant)
	if !reflect.DeepEqual(got, []string{fieldOnHand, fieldConsumed}) {
		t.Errorf("affected(quant) = %v", got)
	}
}
