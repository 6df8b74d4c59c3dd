package services

import (
	"context"
	"strings"
	"testing"

	"stockipv/server/internal/repository/memory"
)

func TestCatalogLoadsFixture(t *testing.T) {
	fx := newFixture(t)

	flour, err := fx.store.GetProduct(fx.ctx, fx.id("flour"))
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if flour.UoMID != fx.id("kg") {
		t.Errorf("flour uom = %s, want kg", flour.UoMID)
	}
	beer, err := fx.store.GetProduct(fx.ctx, fx.id("beer"))
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if len(beer.WorkplaceIDs) != 1 || beer.WorkplaceIDs[0] != fx.id("terrace") {
		t.Errorf("beer workplaces = %v", beer.WorkplaceIDs)
	}
	bom, err := fx.store.GetBOM(fx.ctx, fx.id("pizza_bom"))
	if err != nil {
		t.Fatalf("GetBOM: %v", err)
	}
	if len(bom.Lines) != 4 || bom.Lines[0].Sequence != 10 || bom.Lines[3].Sequence != 40 {
		t.Errorf("bom lines = %+v", bom.Lines)
	}
}

func TestCatalogUnknownReferenceRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cat, err := ParseCatalog(strings.NewReader(`
uoms:
  - {key: unit, name: Units}
products:
  - {key: tea, name: Tea, uom: litre}
`))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	err = cat.Load(ctx, store)
	if err == nil || !strings.Contains(err.Error(), "litre") {
		t.Fatalf("err = %v", err)
	}
	uoms, err := store.ListUoMs(ctx)
	if err != nil {
		t.Fatalf("ListUoMs: %v", err)
	}
	if len(uoms) != 0 {
		t.Errorf("uoms after rollback = %d", len(uoms))
	}
}

func TestParseCatalogRejectsBadDecimal(t *testing.T) {
	_, err := ParseCatalog(strings.NewReader("quants:\n  - {product: a, location: b, qty: lots}\n"))
	if err == nil {
		t.Fatal("expected decode error")
	}
}
