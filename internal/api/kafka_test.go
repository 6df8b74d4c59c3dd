package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"stockipv/server/internal/models"
	"stockipv/server/internal/services"
)

type recordedSales struct {
	sales []services.SaleInput
	err   error
}

func (r *recordedSales) RegisterSale(_ context.Context, sale services.SaleInput) error {
	r.sales = append(r.sales, sale)
	return r.err
}

func TestDecodeSaleFormats(t *testing.T) {
	pb, err := structpb.NewStruct(map[string]interface{}{
		"workplace_id": "wp1",
		"product_id":   "p1",
		"qty":          2.5,
		"origin":       "POS/0007",
	})
	if err != nil {
		t.Fatal(err)
	}
	binary, err := proto.Marshal(pb)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		value   []byte
		want    services.SaleInput
		wantErr bool
	}{
		{
			name:  "json",
			value: []byte(`{"workplace_id":"wp1","product_id":"p1","qty":"3"}`),
			want:  services.SaleInput{WorkplaceID: "wp1", ProductID: "p1", Qty: decimal.NewFromInt(3), Origin: "POS"},
		},
		{
			name:  "protobuf struct",
			value: binary,
			want:  services.SaleInput{WorkplaceID: "wp1", ProductID: "p1", Qty: decimal.RequireFromString("2.5"), Origin: "POS/0007"},
		},
		{name: "zero qty", value: []byte(`{"workplace_id":"wp1","product_id":"p1","qty":0}`), wantErr: true},
		{name: "empty", value: []byte("  "), wantErr: true},
		{name: "garbage", value: []byte{0xff, 0x01}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSale(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeSale: %v", err)
			}
			if got.WorkplaceID != tt.want.WorkplaceID || got.ProductID != tt.want.ProductID ||
				!got.Qty.Equal(tt.want.Qty) || got.Origin != tt.want.Origin {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandleSaleMessage(t *testing.T) {
	rec := &recordedSales{}
	if err := HandleSaleMessage(context.Background(), rec, []byte(`{"workplace_id":"wp1","product_id":"p1","qty":1}`)); err != nil {
		t.Fatalf("HandleSaleMessage: %v", err)
	}
	if len(rec.sales) != 1 {
		t.Fatalf("sales = %d", len(rec.sales))
	}

	rec.err = errors.New("boom")
	if err := HandleSaleMessage(context.Background(), rec, []byte(`{"workplace_id":"wp1","product_id":"p1","qty":1}`)); !errors.Is(err, rec.err) {
		t.Fatalf("err = %v", err)
	}
	if err := HandleSaleMessage(context.Background(), rec, []byte(`{}`)); err == nil {
		t.Fatal("invalid sale accepted")
	}
	if len(rec.sales) != 2 {
		t.Errorf("invalid sale reached the service")
	}
}

func TestEncodeTurnEvent(t *testing.T) {
	parent := "l1"
	ipv := &models.IPV{
		ID:    "t1",
		Name:  "IPV/00003",
		State: models.IPVOpen,
		Lines: []models.IPVLine{
			{ID: "l1", ProductID: "pizza", Kind: models.LineManufactured, RequestQty: decimal.NewFromInt(2)},
			{ID: "l2", ProductID: "dough", ParentID: &parent, ParentIDs: pq.StringArray{"l1", "l3"}, ConsumedQty: decimal.RequireFromString("1.5")},
		},
	}
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	data, err := EncodeTurnEvent(services.NewTurnEvent(services.EventTurnDone, ipv, at))
	if err != nil {
		t.Fatalf("EncodeTurnEvent: %v", err)
	}

	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m := s.AsMap()
	if m["type"] != services.EventTurnDone || m["name"] != "IPV/00003" || m["state"] != "open" || m["at"] != "2026-05-01T08:00:00Z" {
		t.Errorf("event = %v", m)
	}
	lines, ok := m["lines"].([]interface{})
	if !ok || len(lines) != 2 {
		t.Fatalf("lines = %v", m["lines"])
	}
	raw := lines[1].(map[string]interface{})
	if raw["parent_id"] != "l1" || raw["consumed"] != "1.5" {
		t.Errorf("raw line = %v", raw)
	}
	if parents, _ := raw["parent_ids"].([]interface{}); len(parents) != 2 || parents[1] != "l3" {
		t.Errorf("raw parents = %v", raw["parent_ids"])
	}
}
