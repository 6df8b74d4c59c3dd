package services

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"stockipv/server/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestConvertQuantity(t *testing.T) {
	kg := &models.UoM{ID: "kg", Name: "kg", Category: "weight", Factor: d("1"), Rounding: d("0.001")}
	g := &models.UoM{ID: "g", Name: "g", Category: "weight", Factor: d("1000"), Rounding: d("1")}
	dozen := &models.UoM{ID: "dz", Name: "dozen", Category: "unit", Factor: d("0.0833333333"), Rounding: d("0.01")}
	unit := &models.UoM{ID: "u", Name: "unit", Category: "unit", Factor: d("1"), Rounding: d("1")}

	cases := []struct {
		name     string
		qty      string
		from, to *models.UoM
		want     string
	}{
		{"kg to g", "2", kg, g, "2000"},
		{"g to kg", "500", g, kg, "0.5"},
		{"g to kg rounds up", "1", g, kg, "0.001"},
		{"kg to g rounds up fraction", "0.0005", kg, g, "1"},
		{"same uom untouched", "1.23456", kg, kg, "1.23456"},
		{"negative rounds away from zero", "-0.0005", kg, g, "-1"},
		{"units to dozen", "12", unit, dozen, "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ConvertQuantity(d(tc.qty), tc.from, tc.to)
			if err != nil {
				t.Fatalf("ConvertQuantity: %v", err)
			}
			if !got.Equal(d(tc.want)) {
				t.Errorf("ConvertQuantity(%s) = %s, want %s", tc.qty, got, tc.want)
			}
		})
	}
}

func TestConvertQuantityCategoryMismatch(t *testing.T) {
	kg := &models.UoM{ID: "kg", Category: "weight", Factor: d("1"), Rounding: d("0.001")}
	l := &models.UoM{ID: "l", Category: "volume", Factor: d("1"), Rounding: d("0.001")}
	_, err := ConvertQuantity(d("1"), kg, l)
	if !errors.Is(err, ErrUoMCategory) {
		t.Fatalf("err = %v, want ErrUoMCategory", err)
	}
	if !IsUserError(err) {
		t.Errorf("category mismatch should be a user error")
	}
}

func TestRoundUp(t *testing.T) {
	cases := []struct{ v, r, want string }{
		{"1.001", "0.01", "1.01"},
		{"1.00", "0.01", "1"},
		{"0.99999999999999999", "0.01", "1"},
		{"7", "0", "7"},
		{"2.5", "1", "3"},
	}
	for _, tc := range cases {
		if got := RoundUp(d(tc.v), d(tc.r)); !got.Equal(d(tc.want)) {
			t.Errorf("RoundUp(%s, %s) = %s, want %s", tc.v, tc.r, got, tc.want)
		}
	}
}
