package services

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
	"stockipv/server/internal/repository/memory"
)

type fixture struct {
	ctx   context.Context
	store *memory.Store
	cat   *Catalog
	ipv   *IPVService
	sent  []TurnEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	f, err := os.Open("testdata/catalog.yaml")
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()
	cat, err := ParseCatalog(f)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if err := cat.Load(ctx, store); err != nil {
		t.Fatalf("Load: %v", err)
	}

	fx := &fixture{ctx: ctx, store: store, cat: cat}
	uoms := NewUoMService(store)
	locs := NewLocationService(store)
	stock := NewStockService(store, locs)
	boms := NewBOMService(store, uoms)
	events := PublisherFunc(func(_ context.Context, ev TurnEvent) error {
		fx.sent = append(fx.sent, ev)
		return nil
	})
	fx.ipv = NewIPVService(store, stock, boms, uoms, locs, IPVConfig{SequencePrefix: "IPV/", GroupPicking: true}, events)
	return fx
}

func (fx *fixture) id(key string) string {
	return fx.cat.Refs[key]
}

func (fx *fixture) turn(t *testing.T, lines ...LineInput) *models.IPV {
	t.Helper()
	ipv, err := fx.ipv.CreateTurn(fx.ctx, TurnInput{
		LocationID:     fx.id("stock"),
		LocationDestID: fx.id("dest"),
		RequestedBy:    fx.id("clerk"),
		Lines:          lines,
	})
	if err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	return ipv
}

func (fx *fixture) moves(t *testing.T, ipvID string) []models.StockMove {
	t.Helper()
	moves, err := fx.store.ListMoves(fx.ctx, repository.MoveFilter{IPVID: ipvID})
	if err != nil {
		t.Fatalf("ListMoves: %v", err)
	}
	return moves
}

func line(fx *fixture, key string, qty string) LineInput {
	return LineInput{ProductID: fx.id(key), RequestQty: d(qty)}
}

func findLine(ipv *models.IPV, productID string) *models.IPVLine {
	for i := range ipv.Lines {
		if ipv.Lines[i].ProductID == productID {
			return &ipv.Lines[i]
		}
	}
	return nil
}

func mustUserErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if !IsUserError(err) {
		t.Fatalf("err %v is not a user error", err)
	}
}

func TestCreateTurnAssignsSequence(t *testing.T) {
	fx := newFixture(t)
	first := fx.turn(t)
	second := fx.turn(t)
	if first.Name != "IPV/00001" || second.Name != "IPV/00002" {
		t.Fatalf("names = %q, %q", first.Name, second.Name)
	}
	if first.State != models.IPVDraft {
		t.Errorf("state = %s, want draft", first.State)
	}
	if len(fx.sent) != 2 || fx.sent[0].Type != EventTurnCreated {
		t.Errorf("events = %+v", fx.sent)
	}
}

func TestCreateTurnRequiresLocations(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.ipv.CreateTurn(fx.ctx, TurnInput{LocationID: fx.id("stock")})
	mustUserErr(t, err, ErrLocationRequired)
}

func TestSimpleLineLifecycle(t *testing.T) {
	fx := newFixture(t)
	ipv := fx.turn(t, line(fx, "soda", "10"))

	ipv, err := fx.ipv.Confirm(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	moves := fx.moves(t, ipv.ID)
	if len(moves) != 1 {
		t.Fatalf("moves = %d, want 1", len(moves))
	}
	m := moves[0]
	sodaLine := findLine(ipv, fx.id("soda"))
	if sodaLine.SublocationID == nil {
		t.Fatal("sub-location was not created on confirm")
	}
	if !m.ProductUoMQty.Equal(d("10")) || m.LocationID != fx.id("stock") || m.LocationDestID != *sodaLine.SublocationID {
		t.Fatalf("move = %+v", m)
	}
	if m.State != models.MoveConfirmed || ipv.State != models.IPVCheck {
		t.Fatalf("move state %s, turn state %s", m.State, ipv.State)
	}
	if !ipv.ShowCheckAvailability || !ipv.ShowValidate {
		t.Errorf("flags check=%v validate=%v", ipv.ShowCheckAvailability, ipv.ShowValidate)
	}
	if ipv.PickingID == nil || m.PickingID == nil || *m.PickingID != *ipv.PickingID {
		t.Errorf("move not grouped into the turn picking")
	}

	// 4 штуки уже лежат на точке до перемещения
	if _, err := fx.ipv.AdjustInventory(fx.ctx, fx.id("soda"), *sodaLine.SublocationID, d("4")); err != nil {
		t.Fatalf("AdjustInventory: %v", err)
	}

	ipv, err = fx.ipv.Assign(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got := fx.moves(t, ipv.ID)[0].State; got != models.MoveAssigned {
		t.Fatalf("move state after assign = %s", got)
	}
	if ipv.State != models.IPVAssign || ipv.ShowCheckAvailability {
		t.Fatalf("turn state %s, show check %v", ipv.State, ipv.ShowCheckAvailability)
	}

	ipv, err = fx.ipv.Validate(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	l := findLine(ipv, fx.id("soda"))
	if ipv.State != models.IPVOpen || ipv.DateOpen == nil {
		t.Fatalf("turn state %s, date open %v", ipv.State, ipv.DateOpen)
	}
	if !l.InitialStockQty.Equal(d("4")) || !l.OnHandQty.Equal(d("14")) || !l.ConsumedQty.IsZero() {
		t.Fatalf("initial %s on hand %s consumed %s", l.InitialStockQty, l.OnHandQty, l.ConsumedQty)
	}
	if ipv.ShowValidate {
		t.Error("show validate on an open turn")
	}

	// продали 5: остаток 9, расход 4 + 10 - 9
	if _, err := fx.ipv.AdjustInventory(fx.ctx, fx.id("soda"), *l.SublocationID, d("9")); err != nil {
		t.Fatalf("AdjustInventory: %v", err)
	}
	ipv, err = fx.ipv.GetTurn(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if l := findLine(ipv, fx.id("soda")); !l.ConsumedQty.Equal(d("5")) {
		t.Fatalf("consumed = %s, want 5", l.ConsumedQty)
	}

	ipv, err = fx.ipv.Close(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ipv.State != models.IPVClose || ipv.DateClose == nil || !ipv.IsLocked {
		t.Fatalf("closed turn = %+v", ipv)
	}

	quants, _ := fx.store.ListQuants(fx.ctx, repository.QuantFilter{ProductID: fx.id("soda"), LocationIDs: []string{fx.id("stock")}})
	if len(quants) != 1 || !quants[0].Quantity.Equal(d("40")) || !quants[0].ReservedQuantity.IsZero() {
		t.Errorf("source quant = %+v", quants)
	}

	_, err = fx.ipv.AddLine(fx.ctx, ipv.ID, line(fx, "soda", "1"))
	mustUserErr(t, err, ErrTurnClosed)
}

func TestManufacturedLineExplodesBOM(t *testing.T) {
	fx := newFixture(t)
	ipv := fx.turn(t, line(fx, "pizza", "5"))

	pizza := findLine(ipv, fx.id("pizza"))
	if pizza == nil || pizza.Kind != models.LineManufactured || pizza.BOMID == nil {
		t.Fatalf("pizza line = %+v", pizza)
	}
	want := map[string]string{"dough": "10", "cheese": "5", "flour": "1"}
	raws := 0
	for _, l := range ipv.Lines {
		if !l.IsRaw() {
			continue
		}
		raws++
		if *l.ParentID != pizza.ID {
			t.Errorf("raw line parent = %s", *l.ParentID)
		}
		var key string
		for k := range want {
			if fx.id(k) == l.ProductID {
				key = k
			}
		}
		if key == "" {
			t.Fatalf("unexpected raw product %s", l.ProductID)
		}
		if !l.RequestQty.Equal(d(want[key])) {
			t.Errorf("%s qty = %s, want %s", key, l.RequestQty, want[key])
		}
	}
	if raws != len(want) {
		t.Fatalf("raw lines = %d, want %d (service components are skipped)", raws, len(want))
	}

	ipv, err := fx.ipv.Confirm(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	moves := fx.moves(t, ipv.ID)
	if len(moves) != 3 {
		t.Fatalf("moves = %d, want 3", len(moves))
	}
	pizza = findLine(ipv, fx.id("pizza"))
	for _, m := range moves {
		if *m.IPVLineID == pizza.ID {
			t.Error("manufactured line owns a move")
		}
		if m.LocationDestID != *pizza.SublocationID {
			t.Errorf("raw move goes to %s, want pizza sub-location", m.LocationDestID)
		}
	}
	sub, err := fx.store.GetLocation(fx.ctx, *pizza.SublocationID)
	if err != nil || sub.Usage != models.UsageProduction {
		t.Fatalf("pizza sub-location = %+v, %v", sub, err)
	}

	_, err = fx.ipv.Validate(fx.ctx, ipv.ID)
	if !errors.Is(err, ErrNothingReserved) {
		t.Fatalf("Validate before assign err = %v", err)
	}
	if _, err = fx.ipv.Assign(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	ipv, err = fx.ipv.Validate(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	pizza = findLine(ipv, fx.id("pizza"))
	if pizza.State != models.MoveDone || ipv.State != models.IPVOpen {
		t.Fatalf("pizza state %s, turn %s", pizza.State, ipv.State)
	}
	if !pizza.OnHandQty.Equal(d("5")) {
		t.Errorf("pizza on hand = %s, want 5", pizza.OnHandQty)
	}
}

func TestUpdateRequestQtyIsAdditive(t *testing.T) {
	totals := func(steps ...string) map[string]decimal.Decimal {
		fx := newFixture(t)
		ipv := fx.turn(t, line(fx, "pizza", "5"))
		if _, err := fx.ipv.Confirm(fx.ctx, ipv.ID); err != nil {
			t.Fatalf("Confirm: %v", err)
		}
		pizzaID := findLine(ipv, fx.id("pizza")).ID
		for _, qty := range steps {
			q := d(qty)
			if _, err := fx.ipv.UpdateLine(fx.ctx, ipv.ID, pizzaID, LineUpdate{RequestQty: &q}); err != nil {
				t.Fatalf("UpdateLine(%s): %v", qty, err)
			}
		}
		ipv, err := fx.ipv.GetTurn(fx.ctx, ipv.ID)
		if err != nil {
			t.Fatalf("GetTurn: %v", err)
		}
		out := make(map[string]decimal.Decimal)
		for _, l := range ipv.Lines {
			out["line:"+l.ProductID] = l.RequestQty
		}
		for _, m := range fx.moves(t, ipv.ID) {
			if m.State != models.MoveCancel {
				out["move:"+m.ProductID] = out["move:"+m.ProductID].Add(m.ProductUoMQty)
			}
		}
		out["pizza"] = findLine(ipv, fx.id("pizza")).RequestQty
		// ключи по ID продуктов разные в разных фикстурах - переводим в имена
		named := make(map[string]decimal.Decimal)
		for _, k := range []string{"dough", "cheese", "flour", "pizza"} {
			named["line:"+k] = out["line:"+fx.id(k)]
			named["move:"+k] = out["move:"+fx.id(k)]
		}
		return named
	}

	stepwise := totals("7", "10")
	direct := totals("10")
	for k, v := range direct {
		if !stepwise[k].Equal(v) {
			t.Errorf("%s: stepwise %s, direct %s", k, stepwise[k], v)
		}
	}
	if !direct["line:dough"].Equal(d("20")) || !direct["move:dough"].Equal(d("20")) {
		t.Errorf("dough after update = line %s move %s, want 20", direct["line:dough"], direct["move:dough"])
	}

	shrunk := totals("3")
	if !shrunk["move:cheese"].Equal(d("3")) || !shrunk["line:cheese"].Equal(d("3")) {
		t.Errorf("cheese after shrink = line %s move %s, want 3", shrunk["line:cheese"], shrunk["move:cheese"])
	}
}

func TestReduceDoneQtyIsRejected(t *testing.T) {
	fx := newFixture(t)
	ipv := fx.turn(t, line(fx, "soda", "10"))
	if _, err := fx.ipv.Assign(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	ipv, err := fx.ipv.Validate(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	l := findLine(ipv, fx.id("soda"))
	less := d("6")
	_, err = fx.ipv.UpdateLine(fx.ctx, ipv.ID, l.ID, LineUpdate{RequestQty: &less})
	mustUserErr(t, err, ErrReduceDoneQty)

	ipv, _ = fx.ipv.GetTurn(fx.ctx, ipv.ID)
	if got := findLine(ipv, fx.id("soda")).RequestQty; !got.Equal(d("10")) {
		t.Errorf("request qty after rejected update = %s", got)
	}

	// прирост в открытой смене - новое перемещение
	more := d("12")
	ipv, err = fx.ipv.UpdateLine(fx.ctx, ipv.ID, l.ID, LineUpdate{RequestQty: &more})
	if err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}
	if len(fx.moves(t, ipv.ID)) != 2 || ipv.State != models.IPVCheck {
		t.Errorf("moves = %d, state = %s", len(fx.moves(t, ipv.ID)), ipv.State)
	}
}

func TestDeleteTurnOnlyInDraftOrCancel(t *testing.T) {
	fx := newFixture(t)

	draft := fx.turn(t, line(fx, "soda", "1"))
	if err := fx.ipv.DeleteTurn(fx.ctx, draft.ID); err != nil {
		t.Fatalf("DeleteTurn(draft): %v", err)
	}
	if _, err := fx.ipv.GetTurn(fx.ctx, draft.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("GetTurn after delete err = %v", err)
	}

	ipv := fx.turn(t, line(fx, "soda", "3"))
	if _, err := fx.ipv.Assign(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	mustUserErr(t, fx.ipv.DeleteTurn(fx.ctx, ipv.ID), ErrTurnNotDeletable)

	ipv, err := fx.ipv.Cancel(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ipv.State != models.IPVCancel {
		t.Fatalf("state after cancel = %s", ipv.State)
	}
	quants, _ := fx.store.ListQuants(fx.ctx, repository.QuantFilter{ProductID: fx.id("soda"), LocationIDs: []string{fx.id("stock")}})
	if !quants[0].ReservedQuantity.IsZero() {
		t.Errorf("reservation kept after cancel: %s", quants[0].ReservedQuantity)
	}
	if err := fx.ipv.DeleteTurn(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("DeleteTurn(cancel): %v", err)
	}
	if len(fx.moves(t, ipv.ID)) != 0 {
		t.Error("moves survived turn deletion")
	}
	lines, _ := fx.store.ListLines(fx.ctx, ipv.ID)
	if len(lines) != 0 {
		t.Error("lines survived turn deletion")
	}
}

func TestTurnActionErrors(t *testing.T) {
	fx := newFixture(t)

	empty := fx.turn(t)
	_, err := fx.ipv.Validate(fx.ctx, empty.ID)
	mustUserErr(t, err, ErrNothingToMove)
	_, err = fx.ipv.Assign(fx.ctx, empty.ID)
	mustUserErr(t, err, ErrNothingToCheck)
	_, err = fx.ipv.Close(fx.ctx, empty.ID)
	mustUserErr(t, err, ErrTurnNotOpen)

	// вина на складе нет: резервировать нечего
	noStock := fx.turn(t, line(fx, "wine", "2"))
	ipv, err := fx.ipv.Assign(fx.ctx, noStock.ID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if ipv.State != models.IPVCheck {
		t.Fatalf("state = %s, want check", ipv.State)
	}
	_, err = fx.ipv.Validate(fx.ctx, noStock.ID)
	mustUserErr(t, err, ErrNothingReserved)

	_, err = fx.ipv.UpdateLine(fx.ctx, noStock.ID, findLine(ipv, fx.id("wine")).ID, LineUpdate{RequestQty: decimalPtr("-1")})
	mustUserErr(t, err, ErrInvalidQuantity)
}

func TestDeleteLine(t *testing.T) {
	fx := newFixture(t)
	ipv := fx.turn(t, line(fx, "pizza", "1"), line(fx, "soda", "2"))
	pizza := findLine(ipv, fx.id("pizza"))

	ipv, err := fx.ipv.DeleteLine(fx.ctx, ipv.ID, pizza.ID)
	if err != nil {
		t.Fatalf("DeleteLine: %v", err)
	}
	if len(ipv.Lines) != 1 || ipv.Lines[0].ProductID != fx.id("soda") {
		t.Fatalf("lines after delete = %+v", ipv.Lines)
	}

	ipv, err = fx.ipv.Assign(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	_, err = fx.ipv.DeleteLine(fx.ctx, ipv.ID, ipv.Lines[0].ID)
	mustUserErr(t, err, ErrLineNotDeletable)
}

func TestWorkplaceTurnAndSales(t *testing.T) {
	fx := newFixture(t)
	bar := fx.id("bar")

	_, err := fx.ipv.CreateTurn(fx.ctx, TurnInput{WorkplaceID: &bar, Lines: []LineInput{line(fx, "wine", "1")}})
	mustUserErr(t, err, ErrProductNotAllowed)
	_, err = fx.ipv.CreateTurn(fx.ctx, TurnInput{WorkplaceID: &bar, Lines: []LineInput{line(fx, "beer", "1")}})
	mustUserErr(t, err, ErrProductNotAllowed)

	ipv, err := fx.ipv.CreateTurn(fx.ctx, TurnInput{WorkplaceID: &bar, Lines: []LineInput{line(fx, "pizza", "2")}})
	if err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	if ipv.LocationID != fx.id("stock") || ipv.LocationDestID != fx.id("sales") {
		t.Fatalf("turn locations = %s -> %s", ipv.LocationID, ipv.LocationDestID)
	}
	if _, err := fx.ipv.Assign(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	for _, m := range fx.moves(t, ipv.ID) {
		if m.LocationDestID != fx.id("kitchen") {
			t.Errorf("raw move destination = %s, want kitchen", m.LocationDestID)
		}
	}
	ipv, err = fx.ipv.Open(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pizza := findLine(ipv, fx.id("pizza"))
	if !pizza.InitialStockQty.IsZero() || !pizza.OnHandQty.Equal(d("2")) {
		t.Fatalf("pizza initial %s on hand %s", pizza.InitialStockQty, pizza.OnHandQty)
	}

	if err := fx.ipv.RegisterSale(fx.ctx, SaleInput{WorkplaceID: bar, ProductID: fx.id("pizza"), Qty: d("1"), Origin: "POS/1"}); err != nil {
		t.Fatalf("RegisterSale: %v", err)
	}
	ipv, err = fx.ipv.GetTurn(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	pizza = findLine(ipv, fx.id("pizza"))
	if !pizza.OnHandQty.Equal(d("1")) || !pizza.ConsumedQty.Equal(d("1")) {
		t.Fatalf("pizza on hand %s consumed %s", pizza.OnHandQty, pizza.ConsumedQty)
	}
	if dough := findLine(ipv, fx.id("dough")); !dough.ConsumedQty.Equal(d("2")) {
		t.Errorf("dough consumed = %s, want 2", dough.ConsumedQty)
	}

	if _, err := fx.ipv.Close(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	def, err := fx.ipv.DefaultTurn(fx.ctx, &bar, "")
	if err != nil {
		t.Fatalf("DefaultTurn: %v", err)
	}
	if len(def.Lines) != 1 || def.Lines[0].ProductID != fx.id("pizza") || !def.Lines[0].RequestQty.IsZero() {
		t.Errorf("default lines = %+v", def.Lines)
	}
}

func TestProductOnchange(t *testing.T) {
	fx := newFixture(t)
	bar := fx.id("bar")
	ipv, err := fx.ipv.CreateTurn(fx.ctx, TurnInput{WorkplaceID: &bar, Lines: []LineInput{line(fx, "soda", "1")}})
	if err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	choices, err := fx.ipv.ProductOnchange(fx.ctx, ipv.ID, fx.id("pizza"))
	if err != nil {
		t.Fatalf("ProductOnchange: %v", err)
	}
	if len(choices.Products) != 1 || choices.Products[0].ID != fx.id("pizza") {
		t.Errorf("products = %+v, want only pizza", choices.Products)
	}
	if choices.BOM == nil || choices.BOM.ID != fx.id("pizza_bom") {
		t.Errorf("bom = %+v", choices.BOM)
	}
	if choices.Warning != "" {
		t.Errorf("unexpected warning %q", choices.Warning)
	}
}

func TestMergeRawLines(t *testing.T) {
	lines := []*models.IPVLine{
		{ID: "m", ProductID: "M", Sequence: 1},
		{ID: "n", ProductID: "N", Sequence: 2},
		{ID: "a4", ProductID: "A", ParentID: ptr("n"), Sequence: 6},
		{ID: "a1", ProductID: "A", ParentID: ptr("m"), Sequence: 3},
		{ID: "b1", ProductID: "B", ParentID: ptr("m"), Sequence: 4},
		{ID: "a2", ProductID: "A", ParentID: ptr("n"), Sequence: 5, SublocationID: ptr("other")},
	}
	// ключ: товар + локация
	key := func(l *models.IPVLine) string {
		loc := "kitchen"
		if l.SublocationID != nil {
			loc = *l.SublocationID
		}
		return l.ProductID + "|" + loc
	}
	targets, dups := mergeRawLines(lines, key)
	if len(dups) != 1 || dups[0].ID != "a4" || targets[0].ID != "a1" {
		t.Fatalf("targets = %+v, dups = %+v", targets, dups)
	}
}

func rawLines(ipv *models.IPV, productID string) []models.IPVLine {
	var out []models.IPVLine
	for _, l := range ipv.Lines {
		if l.ProductID == productID && l.IsRaw() {
			out = append(out, l)
		}
	}
	return out
}

func TestSharedRawMaterials(t *testing.T) {
	fx := newFixture(t)
	terrace := fx.id("terrace")

	ipv, err := fx.ipv.CreateTurn(fx.ctx, TurnInput{WorkplaceID: &terrace, Lines: []LineInput{
		line(fx, "pizza", "2"),
		line(fx, "calzone", "2"),
	}})
	if err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	pizza := findLine(ipv, fx.id("pizza"))
	calzone := findLine(ipv, fx.id("calzone"))
	doughs := rawLines(ipv, fx.id("dough"))
	if len(doughs) != 1 {
		t.Fatalf("dough raw lines = %d, want 1", len(doughs))
	}
	if parents := doughs[0].Parents(); len(parents) != 2 || parents[0] != pizza.ID || parents[1] != calzone.ID {
		t.Errorf("dough parents = %v", parents)
	}
	if cheese := rawLines(ipv, fx.id("cheese")); len(cheese) != 1 || !cheese[0].RequestQty.Equal(d("4")) {
		t.Errorf("cheese raw lines = %+v", cheese)
	}

	if _, err := fx.ipv.Assign(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	var doughMoves []models.StockMove
	for _, m := range fx.moves(t, ipv.ID) {
		if m.ProductID == fx.id("dough") {
			doughMoves = append(doughMoves, m)
		}
	}
	if len(doughMoves) != 1 || !doughMoves[0].ProductUoMQty.Equal(d("6")) {
		t.Fatalf("dough moves = %+v", doughMoves)
	}

	ipv, err = fx.ipv.Open(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doughs = rawLines(ipv, fx.id("dough"))
	if len(doughs) != 1 {
		t.Fatalf("dough raw lines after open = %d", len(doughs))
	}
	dough := doughs[0]
	if !dough.RequestQty.Equal(d("6")) || !dough.OnHandQty.Equal(d("6")) || !dough.ConsumedQty.IsZero() {
		t.Errorf("dough request %s on hand %s consumed %s", dough.RequestQty, dough.OnHandQty, dough.ConsumedQty)
	}

	// прирост по одному продукту идет в общую строку
	ipv, err = fx.ipv.UpdateLine(fx.ctx, ipv.ID, calzone.ID, LineUpdate{RequestQty: decimalPtr("3")})
	if err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}
	if doughs = rawLines(ipv, fx.id("dough")); len(doughs) != 1 || !doughs[0].RequestQty.Equal(d("7")) {
		t.Errorf("dough after calzone update = %+v", doughs)
	}

	rep, err := NewReportService(fx.store, fx.ipv, nil).ReportFor(fx.ctx, ipv)
	if err != nil {
		t.Fatalf("ReportFor: %v", err)
	}
	for _, r := range rep.Rows {
		if r.Product == "Dough" && r.Parent != "Pizza, Calzone" {
			t.Errorf("dough parent = %q", r.Parent)
		}
	}
}

func TestSharedRawWithoutWorkplaceStaysPerProduct(t *testing.T) {
	fx := newFixture(t)
	// у каждого готового продукта своя подлокация
	ipv := fx.turn(t, line(fx, "pizza", "1"), line(fx, "calzone", "1"))
	if doughs := rawLines(ipv, fx.id("dough")); len(doughs) != 2 {
		t.Fatalf("dough raw lines = %d, want 2", len(doughs))
	}
}

func TestDeleteLineReleasesSharedRaw(t *testing.T) {
	fx := newFixture(t)
	terrace := fx.id("terrace")
	ipv, err := fx.ipv.CreateTurn(fx.ctx, TurnInput{WorkplaceID: &terrace, Lines: []LineInput{
		line(fx, "pizza", "2"),
		line(fx, "calzone", "2"),
	}})
	if err != nil {
		t.Fatalf("CreateTurn: %v", err)
	}
	calzone := findLine(ipv, fx.id("calzone"))

	ipv, err = fx.ipv.DeleteLine(fx.ctx, ipv.ID, findLine(ipv, fx.id("pizza")).ID)
	if err != nil {
		t.Fatalf("DeleteLine: %v", err)
	}
	if findLine(ipv, fx.id("flour")) != nil {
		t.Errorf("pizza-only raw should be removed")
	}
	doughs := rawLines(ipv, fx.id("dough"))
	if len(doughs) != 1 || !doughs[0].RequestQty.Equal(d("2")) {
		t.Fatalf("dough after delete = %+v", doughs)
	}
	if doughs[0].ParentID == nil || *doughs[0].ParentID != calzone.ID || len(doughs[0].Parents()) != 1 {
		t.Errorf("dough parent = %v, parents = %v", doughs[0].ParentID, doughs[0].Parents())
	}

	// перезагрузка из хранилища сохраняет связи
	ipv, err = fx.ipv.GetTurn(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if doughs = rawLines(ipv, fx.id("dough")); len(doughs) != 1 || *doughs[0].ParentID != calzone.ID {
		t.Errorf("stored dough = %+v", doughs)
	}
}

func TestDefaultTurnFromQuants(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, fx *fixture) (*string, string)
		want  []string
	}{
		{
			name: "workplace sales location",
			setup: func(t *testing.T, fx *fixture) (*string, string) {
				for key, qty := range map[string]string{"soda": "3", "wine": "0"} {
					q := &models.Quant{ProductID: fx.id(key), LocationID: fx.id("sales"), Quantity: d(qty)}
					if err := fx.store.SaveQuant(fx.ctx, q); err != nil {
						t.Fatalf("SaveQuant: %v", err)
					}
				}
				terrace := fx.id("terrace")
				return &terrace, ""
			},
			want: []string{"soda"},
		},
		{
			name: "destination sublocations",
			setup: func(t *testing.T, fx *fixture) (*string, string) {
				ipv := fx.turn(t, line(fx, "pizza", "2"), line(fx, "soda", "3"))
				if _, err := fx.ipv.Assign(fx.ctx, ipv.ID); err != nil {
					t.Fatalf("Assign: %v", err)
				}
				if _, err := fx.ipv.Open(fx.ctx, ipv.ID); err != nil {
					t.Fatalf("Open: %v", err)
				}
				return nil, fx.id("dest")
			},
			want: []string{"pizza", "soda"},
		},
		{
			name: "empty sublocations",
			setup: func(t *testing.T, fx *fixture) (*string, string) {
				fx.turn(t, line(fx, "soda", "3"))
				return nil, fx.id("dest")
			},
		},
		{
			name: "no destination",
			setup: func(t *testing.T, fx *fixture) (*string, string) {
				return nil, ""
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t)
			wp, dest := tc.setup(t, fx)
			in, err := fx.ipv.DefaultTurn(fx.ctx, wp, dest)
			if err != nil {
				t.Fatalf("DefaultTurn: %v", err)
			}
			got := make(map[string]bool)
			for _, l := range in.Lines {
				if !l.RequestQty.IsZero() {
					t.Errorf("default qty = %s, want 0", l.RequestQty)
				}
				got[l.ProductID] = true
			}
			if len(got) != len(tc.want) {
				t.Errorf("lines = %+v, want %v", in.Lines, tc.want)
			}
			for _, key := range tc.want {
				if !got[fx.id(key)] {
					t.Errorf("missing %s in %+v", key, in.Lines)
				}
			}
		})
	}
}

func decimalPtr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func TestUnreserveAndPartialDone(t *testing.T) {
	fx := newFixture(t)
	// на складе 50, просим 60
	ipv := fx.turn(t, line(fx, "soda", "60"))

	ipv, err := fx.ipv.Assign(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if ipv.State != models.IPVAssign {
		t.Fatalf("state after partial reservation = %s", ipv.State)
	}
	m := fx.moves(t, ipv.ID)[0]
	if m.State != models.MovePartiallyAvailable {
		t.Fatalf("move state = %s", m.State)
	}

	ipv, err = fx.ipv.Unreserve(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Unreserve: %v", err)
	}
	if ipv.State != models.IPVCheck || fx.moves(t, ipv.ID)[0].State != models.MoveConfirmed {
		t.Fatalf("after unreserve turn %s move %s", ipv.State, fx.moves(t, ipv.ID)[0].State)
	}
	quants, _ := fx.store.ListQuants(fx.ctx, repository.QuantFilter{ProductID: fx.id("soda"), LocationIDs: []string{fx.id("stock")}})
	if len(quants) != 1 || !quants[0].ReservedQuantity.IsZero() {
		t.Fatalf("reservation left on quant: %+v", quants)
	}

	if _, err := fx.ipv.Assign(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("Assign again: %v", err)
	}
	if _, err := fx.ipv.SetMoveQuantityDone(fx.ctx, m.ID, d("30")); err != nil {
		t.Fatalf("SetMoveQuantityDone: %v", err)
	}
	if _, err := fx.ipv.Done(fx.ctx, ipv.ID); err != nil {
		t.Fatalf("Done: %v", err)
	}

	var done, backorder *models.StockMove
	moves := fx.moves(t, ipv.ID)
	for i := range moves {
		switch moves[i].State {
		case models.MoveDone:
			done = &moves[i]
		case models.MoveConfirmed, models.MovePartiallyAvailable, models.MoveAssigned:
			backorder = &moves[i]
		}
	}
	if len(moves) != 2 || done == nil || backorder == nil {
		t.Fatalf("moves = %+v", moves)
	}
	if !done.ProductUoMQty.Equal(d("30")) || !backorder.ProductUoMQty.Equal(d("30")) {
		t.Errorf("done %s, backorder %s", done.ProductUoMQty, backorder.ProductUoMQty)
	}
	quants, _ = fx.store.ListQuants(fx.ctx, repository.QuantFilter{ProductID: fx.id("soda"), LocationIDs: []string{fx.id("stock")}})
	if len(quants) != 1 || !quants[0].Quantity.Equal(d("20")) {
		t.Errorf("source quant = %+v", quants)
	}

	// смена еще не открыта: перемещение остатка не выполнено
	_, err = fx.ipv.Close(fx.ctx, ipv.ID)
	mustUserErr(t, err, ErrTurnNotOpen)

	ipv, err = fx.ipv.Cancel(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	for _, mv := range fx.moves(t, ipv.ID) {
		if mv.ID == done.ID {
			if mv.State != models.MoveDone {
				t.Errorf("done move changed to %s", mv.State)
			}
		} else if mv.State != models.MoveCancel {
			t.Errorf("backorder state = %s, want cancel", mv.State)
		}
	}
}
