package load

import (
	"context"
	"testing"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/model"
)

func TestInsertStatement(t *testing.T) {
	b := &model.Batch{
		Table:   "stock_price",
		Key:     "id",
		Columns: []string{"id", "symbol", "date", "price", "volume"},
	}

	got := insertStatement(b)
	want := `INSERT INTO stock_price (id, symbol, date, price, volume) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`
	if got != want {
		t.Errorf("insertStatement() =\n%s\nwant\n%s", got, want)
	}
}

func TestInsertStatementProfileKey(t *testing.T) {
	b := &model.Batch{
		Table:   "stock_info",
		Key:     "symbol",
		Columns: []string{"symbol", "name"},
	}

	got := insertStatement(b)
	want := `INSERT INTO stock_info (symbol, name) VALUES ($1, $2) ON CONFLICT (symbol) DO NOTHING`
	if got != want {
		t.Errorf("insertStatement() = %s, want %s", got, want)
	}
}

func TestLoadSkipsEmptyBatch(t *testing.T) {
	// A nil pool would panic on any query; empty batches must never reach it.
	d := New(nil)

	for name, b := range map[string]*model.Batch{
		"nil":   nil,
		"empty": {Table: "stock_price", Key: "id", Columns: []string{"id"}},
	} {
		got, err := d.Load(context.Background(), b)
		if err != nil {
			t.Errorf("%s: Load() err = %v", name, err)
		}
		if got != (Result{}) {
			t.Errorf("%s: Load() = %+v, want zero result", name, got)
		}
	}
}
