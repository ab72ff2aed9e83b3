package store

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/provenso/trading-engine/internal/model"
)

// stubRow satisfies pgx.Row for exercising the scan helpers without a
// database. A nil value leaves the destination untouched.
type stubRow struct {
	vals []any
}

func (r stubRow) Scan(dest ...any) error {
	for i, d := range dest {
		if r.vals[i] == nil {
			continue
		}
		rv := reflect.ValueOf(d).Elem()
		rv.Set(reflect.ValueOf(r.vals[i]).Convert(rv.Type()))
	}
	return nil
}

func marketRow(yesPrice, volume, openInterest string) stubRow {
	now := time.Now()
	return stubRow{vals: []any{
		"m1", "q", model.CategoryTech, "", "", model.StatusOpen,
		yesPrice, volume, openInterest,
		nil, "", "", now, now, now, now,
	}}
}

func TestScanMarket_ParsesNumericColumns(t *testing.T) {
	m, err := scanMarket(marketRow("0.52", "152", "100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.YesPrice.Equal(d(0.52)) {
		t.Errorf("expected yes price 0.52, got %s", m.YesPrice)
	}
	if !m.VolumeUSDC.Equal(d(152)) {
		t.Errorf("expected volume 152, got %s", m.VolumeUSDC)
	}
	if m.ResolvedOutcome != nil {
		t.Errorf("expected nil outcome, got %v", m.ResolvedOutcome)
	}
}

func TestScanMarket_RejectsMalformedNumeric(t *testing.T) {
	cases := []struct {
		name string
		row  stubRow
		want string
	}{
		{"yes_price", marketRow("not-a-number", "0", "0"), "yes_price"},
		{"volume_usdc", marketRow("0.5", "garbage", "0"), "volume_usdc"},
		{"open_interest", marketRow("0.5", "0", ""), "open_interest"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := scanMarket(tc.row)
			if err == nil {
				t.Fatal("expected a parse error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error does not name the column: %v", err)
			}
		})
	}
}

func TestScanPosition_RejectsMalformedNumeric(t *testing.T) {
	row := stubRow{vals: []any{
		"u1_m1_YES", "u1", "m1", model.SideYes,
		"200", "0.5", "bogus", time.Now(),
	}}
	_, err := scanPosition(row)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !strings.Contains(err.Error(), "realized_pnl") {
		t.Errorf("error does not name the column: %v", err)
	}
}
