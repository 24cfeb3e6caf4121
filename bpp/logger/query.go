package logger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
)

// QueryHook reports every bun query through the "db" log type.
type QueryHook struct {
	slowThreshold time.Duration
}

func NewQueryHook(slowThreshold time.Duration) *QueryHook {
	return &QueryHook{slowThreshold: slowThreshold}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)

	var rowsAffected int64
	if event.Result != nil {
		rowsAffected, _ = event.Result.RowsAffected()
	}

	// no rows is an expected outcome for lookups
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		slog.Error("Query failed",
			slog.String("type", "db"),
			slog.String("operation", event.Operation()),
			slog.String("query", event.Query),
			slog.Duration("took", duration),
			slog.Any("error", event.Err),
		)
		return
	}

	level := slog.LevelDebug
	if h.slowThreshold > 0 && duration > h.slowThreshold {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "Query executed",
		slog.String("type", "db"),
		slog.String("operation", event.Operation()),
		slog.Duration("took", duration),
		slog.Int64("affected_rows", rowsAffected),
	)
}
