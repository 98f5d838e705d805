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

package load

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/logging"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/model"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/util"
)

// Result reports what one batch load did. Conflicts counts rows whose key
// already existed and were left untouched.
type Result struct {
	Inserted  int64
	Conflicts int64
}

// Loader writes normalized batches to one shared sink.
type Loader interface {
	Load(ctx context.Context, b *model.Batch) (Result, error)
}

// DB loads batches into postgres. Each batch is written in a single
// transaction of insert-or-ignore statements: duplicate keys are skipped,
// any other failure rolls the whole batch back. DB never retries; that is
// the caller's decision.
type DB struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *DB {
	return &DB{Pool: pool}
}

func (d *DB) Load(ctx context.Context, b *model.Batch) (Result, error) {
	if b.Len() == 0 {
		return Result{}, nil
	}

	ctx = util.WithLoggerValue(ctx, "table", b.Table)
	stmt := insertStatement(b)

	var ret Result
	err := util.RunTx(ctx, d.Pool, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range b.Rows {
			batch.Queue(stmt, row...)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range b.Rows {
			ct, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to load row %d into %s: %w", i, b.Table, err)
			}
			if ct.RowsAffected() == 0 {
				ret.Conflicts++
			} else {
				ret.Inserted++
			}
		}
		return results.Close()
	})
	if err != nil {
		return Result{}, err
	}

	util.Logf(ctx, logging.Debug, "loaded %d rows into %s (%d inserted, %d duplicates skipped)", b.Len(), b.Table, ret.Inserted, ret.Conflicts)
	return ret, nil
}

func insertStatement(b *model.Batch) string {
	placeholders := make([]string, len(b.Columns))
	for i := range b.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING`,
		b.Table,
		strings.Join(b.Columns, ", "),
		strings.Join(placeholders, ", "),
		b.Key,
	)
}
