package util

import (
	"context"
	"fmt"
	"sync/atomic"

	"cloud.google.com/go/logging"
	"github.com/ajjensen13/gke"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type contextKey string

const (
	loggerContextKey contextKey = "logger"
	extraContextKey  contextKey = "extra"
)

func WithLoggerValue(ctx context.Context, key string, val interface{}) context.Context {
	var nm map[string]interface{}
	p := ctx.Value(extraContextKey)
	if p != nil {
		pm := p.(map[string]interface{})
		nm = make(map[string]interface{}, len(pm)+1)
		for k, v := range pm {
			nm[k] = v
		}
	} else {
		nm = map[string]interface{}{}
	}

	nm[key] = val
	return context.WithValue(ctx, extraContextKey, nm)
}

func WithLogger(ctx context.Context, lg gke.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, lg)
}

type logPayload struct {
	Message string
	Values  map[string]interface{}
}

func (l logPayload) String() string {
	return l.Message
}

// Logf logs through the context's logger with any values attached via
// WithLoggerValue. Contexts without a logger drop the entry.
func Logf(ctx context.Context, severity logging.Severity, format string, argv ...interface{}) {
	lg, ok := ctx.Value(loggerContextKey).(gke.Logger)
	if !ok {
		return
	}
	entry := logging.Entry{Severity: severity, Payload: newLogPayload(ctx, fmt.Sprintf(format, argv...))}
	gke.SetupSourceLocation(&entry, 2)
	lg.Log(entry)
}

func newLogPayload(ctx context.Context, msg string) logPayload {
	ret := logPayload{Message: msg}
	if v := ctx.Value(extraContextKey); v != nil {
		ret.Values = v.(map[string]interface{})
	}
	return ret
}

var nextTxID uint32

// RunTx acquires a connection from the pool and runs f inside a
// transaction: commit when f returns nil, rollback otherwise.
func RunTx(ctx context.Context, pool *pgxpool.Pool, f func(ctx context.Context, tx pgx.Tx) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	txid := atomic.AddUint32(&nextTxID, 1)
	ctx = WithLoggerValue(ctx, "db_tx_id", fmt.Sprintf("tx_%d", txid))

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create transaction [%d]: %w", txid, err)
	}
	Logf(ctx, logging.Debug, "started database transaction [%d]", txid)

	err = f(ctx, tx)
	if err != nil {
		Logf(ctx, logging.Debug, "rolling back database transaction [%d]", txid)
		if errRollback := tx.Rollback(ctx); errRollback != nil {
			Logf(ctx, logging.Warning, "failed to rollback database transaction [%d]: %v", txid, errRollback)
		}
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("failed to commit database transaction [%d]: %w", txid, err)
	}

	Logf(ctx, logging.Debug, "committed database transaction [%d]", txid)
	return nil
}
