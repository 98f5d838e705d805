/*
Copyright © 2020 A. Jensen <jensen.aaro@gmail.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package transform normalizes raw provider records into load-ready
// batches. One generic engine is parameterized by a per-source-type Spec
// instead of one hand-written pipeline per source.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgtype"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/extract"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/model"
)

const dateLayout = "2006-01-02"

// ErrMalformedPayload marks records whose shape does not match the source
// type. Retrying an extraction will not fix these, so callers must treat
// them as permanent.
var ErrMalformedPayload = errors.New("malformed payload")

// DeriveFunc adds or rewrites columns of one record in place.
type DeriveFunc func(symbol string, row map[string]interface{}) error

// IDFunc synthesizes the row identifier from the record's natural key.
type IDFunc func(symbol string, row map[string]interface{}) (string, error)

// Spec describes how one source type's records become table rows: the
// rename map from provider field names to column names, derived-column
// rules, the id rule, the date-typed columns, and the persisted column
// order. Rules run in that order; Dates conversion happens last, when
// values are projected into column order.
type Spec struct {
	Source  model.SourceType
	Table   string
	Key     string
	Columns []string
	Rename  map[string]string
	Derive  []DeriveFunc
	ID      IDFunc
	Dates   []string
}

// Apply normalizes raw records for one symbol. An empty input yields a nil
// batch and a nil error: the caller must skip the load entirely rather
// than write zero rows. Output rows are sorted ascending by the conflict
// key, so repeated runs over the same input produce identical batches.
func Apply(spec Spec, symbol string, raws []extract.Raw) (*model.Batch, error) {
	if len(raws) == 0 {
		return nil, nil
	}

	keyIdx := -1
	for i, col := range spec.Columns {
		if col == spec.Key {
			keyIdx = i
		}
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("%s: conflict key %q is not a column", spec.Table, spec.Key)
	}

	rows := make([][]interface{}, len(raws))
	for i, raw := range raws {
		row := make(map[string]interface{}, len(raw)+2)
		for k, v := range raw {
			if renamed, ok := spec.Rename[k]; ok {
				k = renamed
			}
			row[k] = v
		}
		if _, ok := row["symbol"]; !ok {
			row["symbol"] = symbol
		}

		for _, derive := range spec.Derive {
			if err := derive(symbol, row); err != nil {
				return nil, fmt.Errorf("%s record %d: %w", spec.Table, i, err)
			}
		}

		if spec.ID != nil {
			id, err := spec.ID(symbol, row)
			if err != nil {
				return nil, fmt.Errorf("%s record %d: %w", spec.Table, i, err)
			}
			row["id"] = id
		}

		vals, err := project(spec, row)
		if err != nil {
			return nil, fmt.Errorf("%s record %d: %w", spec.Table, i, err)
		}
		rows[i] = vals
	}

	sort.Slice(rows, func(a, b int) bool {
		ka, _ := rows[a][keyIdx].(string)
		kb, _ := rows[b][keyIdx].(string)
		return ka < kb
	})

	return &model.Batch{
		Table:   spec.Table,
		Key:     spec.Key,
		Columns: spec.Columns,
		Rows:    rows,
	}, nil
}

// project orders a record's values by column, converting date columns on
// the way out. Absent columns are a payload-shape error, never zeroed.
func project(spec Spec, row map[string]interface{}) ([]interface{}, error) {
	vals := make([]interface{}, len(spec.Columns))
	for i, col := range spec.Columns {
		v, ok := row[col]
		if !ok {
			return nil, fmt.Errorf("missing field %q: %w", col, ErrMalformedPayload)
		}
		if isDateColumn(spec, col) {
			d, err := asDate(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", col, err)
			}
			vals[i] = d
			continue
		}
		vals[i] = v
	}
	return vals, nil
}

func isDateColumn(spec Spec, col string) bool {
	for _, d := range spec.Dates {
		if d == col {
			return true
		}
	}
	return false
}

func asDate(v interface{}) (pgtype.Date, error) {
	switch t := v.(type) {
	case time.Time:
		return pgtype.Date{Time: t, Status: pgtype.Present}, nil
	case string:
		parsed, err := time.ParseInLocation(dateLayout, t, time.UTC)
		if err != nil {
			return pgtype.Date{}, fmt.Errorf("invalid date %q: %w", t, ErrMalformedPayload)
		}
		return pgtype.Date{Time: parsed, Status: pgtype.Present}, nil
	default:
		return pgtype.Date{}, fmt.Errorf("expected date, got %T: %w", v, ErrMalformedPayload)
	}
}

func stringField(row map[string]interface{}, key string) (string, error) {
	v, ok := row[key]
	if !ok {
		return "", fmt.Errorf("missing field %q: %w", key, ErrMalformedPayload)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T: %w", key, v, ErrMalformedPayload)
	}
	return s, nil
}

func intField(row map[string]interface{}, key string) (int64, error) {
	v, ok := row[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q: %w", key, ErrMalformedPayload)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("field %q: expected integer, got %T: %w", key, v, ErrMalformedPayload)
	}
}

// splitTimestamp splits a provider "YYYY-MM-DD HH:MM:SS" value on its
// single space into the date and time columns.
func splitTimestamp(_ string, row map[string]interface{}) error {
	ts, err := stringField(row, "date")
	if err != nil {
		return err
	}
	parts := strings.SplitN(ts, " ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("timestamp %q has no time component: %w", ts, ErrMalformedPayload)
	}
	row["date"] = parts[0]
	row["time"] = parts[1]
	return nil
}

// integerColumns coerces the named columns to int64 so provider floats
// never land in integer table columns.
func integerColumns(keys ...string) DeriveFunc {
	return func(_ string, row map[string]interface{}) error {
		for _, key := range keys {
			n, err := intField(row, key)
			if err != nil {
				return err
			}
			row[key] = n
		}
		return nil
	}
}

// articleClock splits a provider epoch timestamp into the article's UTC
// clock time and its day truncated to midnight.
func articleClock(_ string, row map[string]interface{}) error {
	epoch, err := intField(row, "date")
	if err != nil {
		return err
	}
	at := time.Unix(epoch, 0).UTC()
	row["time"] = at.Format("15:04:05")
	row["date"] = time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	return nil
}
