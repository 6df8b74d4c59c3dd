package services

import (
	"errors"
	"testing"

	"stockipv/server/internal/models"
)

func ptr(s string) *string { return &s }

func TestLineTreeRejectsCycles(t *testing.T) {
	tree, err := newLineTree([]models.IPVLine{
		{ID: "m", Sequence: 1},
		{ID: "a", ParentID: ptr("m"), Sequence: 2},
		{ID: "b", ParentID: ptr("a"), Sequence: 3},
	})
	if err != nil {
		t.Fatalf("newLineTree: %v", err)
	}

	if err := tree.reparent("m", "b"); !errors.Is(err, ErrLineRecursion) {
		t.Errorf("reparent m under b err = %v, want ErrLineRecursion", err)
	}
	if err := tree.reparent("a", "a"); !errors.Is(err, ErrLineRecursion) {
		t.Errorf("reparent a under itself err = %v, want ErrLineRecursion", err)
	}
	if err := tree.reparent("b", "m"); err != nil {
		t.Errorf("reparent b under m: %v", err)
	}
	if got := len(tree.childrenOf("m")); got != 2 {
		t.Errorf("children of m = %d, want 2", got)
	}
}

func TestNewLineTreeDetectsStoredCycle(t *testing.T) {
	_, err := newLineTree([]models.IPVLine{
		{ID: "a", ParentID: ptr("b")},
		{ID: "b", ParentID: ptr("a")},
	})
	if !errors.Is(err, ErrLineRecursion) {
		t.Fatalf("err = %v, want ErrLineRecursion", err)
	}
}

func TestLineTreeInsertAndRemove(t *testing.T) {
	tree, _ := newLineTree(nil)
	m := &models.IPVLine{ID: "m"}
	if err := tree.insert(m); err != nil {
		t.Fatalf("insert m: %v", err)
	}
	a := &models.IPVLine{ID: "a", ParentID: ptr("m")}
	b := &models.IPVLine{ID: "b", ParentID: ptr("m")}
	_ = tree.insert(a)
	_ = tree.insert(b)
	if a.Sequence != 2 || b.Sequence != 3 {
		t.Errorf("sequences = %d, %d; want 2, 3", a.Sequence, b.Sequence)
	}
	if err := tree.insert(&models.IPVLine{ID: "x", ParentID: ptr("missing")}); err == nil {
		t.Errorf("insert with unknown parent should fail")
	}

	post := tree.postOrder()
	if post[len(post)-1].ID != "m" {
		t.Errorf("post order should end with the root, got %s", post[len(post)-1].ID)
	}

	removed := tree.remove("m")
	if len(removed) != 3 || removed[2] != "m" {
		t.Errorf("removed = %v, want children then m", removed)
	}
	if len(tree.all()) != 0 {
		t.Errorf("tree not empty after removing root")
	}
}

func TestLineTreeSharedRaw(t *testing.T) {
	tree, err := newLineTree([]models.IPVLine{
		{ID: "pizza", Sequence: 1},
		{ID: "calzone", Sequence: 2},
		{ID: "dough", ParentID: ptr("pizza"), Sequence: 3},
	})
	if err != nil {
		t.Fatalf("newLineTree: %v", err)
	}
	if err := tree.attach("dough", "calzone"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := tree.attach("pizza", "dough"); !errors.Is(err, ErrLineRecursion) {
		t.Errorf("attach pizza under its raw err = %v, want ErrLineRecursion", err)
	}
	dough := tree.get("dough")
	if got := dough.Parents(); len(got) != 2 || got[0] != "pizza" || got[1] != "calzone" {
		t.Fatalf("parents = %v", got)
	}
	if len(tree.childrenOf("calzone")) != 1 {
		t.Errorf("calzone should see the shared raw")
	}
	seen := 0
	for _, l := range tree.postOrder() {
		if l.ID == "dough" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("shared raw visited %d times in post order", seen)
	}

	// основной родитель уходит - сырье переходит к следующему
	if err := tree.detach("dough", "pizza"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if dough.ParentID == nil || *dough.ParentID != "calzone" || len(dough.Parents()) != 1 {
		t.Errorf("after detach parent = %v, parents = %v", dough.ParentID, dough.Parents())
	}
	if len(tree.childrenOf("pizza")) != 0 {
		t.Errorf("pizza still holds the raw")
	}
	removed := tree.remove("pizza")
	if len(removed) != 1 || tree.get("dough") == nil {
		t.Errorf("removing pizza took the raw with it: %v", removed)
	}

	if err := tree.attach("dough", "pizza"); err == nil {
		t.Errorf("attach to removed line should fail")
	}
	if removed := tree.remove("calzone"); len(removed) != 2 {
		t.Errorf("removed = %v, want raw and calzone", removed)
	}
}
