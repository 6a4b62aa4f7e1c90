// Package pagerepo persists paged items in ClickHouse and implements the
// local cache source contract for the mediator. Items are keyed by
// (query_key, position) with a ReplacingMergeTree overwrite semantic;
// payloads are JSON-encoded so the repository stays generic over the item
// type. The stored total per query lives in a second table.
package pagerepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meridian-data/pagestream/pkg/clickhouse"
	"github.com/meridian-data/pagestream/pkg/paging"
	"go.uber.org/zap"
)

// Repository is the ClickHouse-backed local source.
type Repository[T any] struct {
	client      clickhouse.Client
	log         *zap.SugaredLogger
	itemsTable  string
	totalsTable string
}

// NewRepository creates a repository over the given tables and returns an
// error if arguments are invalid.
func NewRepository[T any](
	client clickhouse.Client,
	log *zap.SugaredLogger,
	itemsTable, totalsTable string,
) (*Repository[T], error) {
	if client == nil {
		return nil, errors.New("invalid client: must not be nil")
	}
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if itemsTable == "" {
		return nil, errors.New("invalid items table name: must not be empty")
	}
	if totalsTable == "" {
		return nil, errors.New("invalid totals table name: must not be empty")
	}
	return &Repository[T]{
		client:      client,
		log:         log,
		itemsTable:  itemsTable,
		totalsTable: totalsTable,
	}, nil
}

// CreateTablesIfNotExists creates the items and totals tables.
func (r *Repository[T]) CreateTablesIfNotExists(ctx context.Context) error {
	itemsQuery := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		query_key String,
		position UInt64,
		payload String,
		updated_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (query_key, position)`, r.itemsTable)
	if err := r.client.Conn().Exec(ctx, itemsQuery); err != nil {
		return fmt.Errorf("failed to create items table: %w", err)
	}

	totalsQuery := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		query_key String,
		total UInt64,
		updated_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY query_key`, r.totalsTable)
	if err := r.client.Conn().Exec(ctx, totalsQuery); err != nil {
		return fmt.Errorf("failed to create totals table: %w", err)
	}
	return nil
}

// Read returns the cached positions inside [start, start+size) for query.
// Absent positions are omitted; an unknown total reads back as 0.
func (r *Repository[T]) Read(ctx context.Context, start, size int, query string) (paging.Portion[T], error) {
	total, err := r.readTotal(ctx, query)
	if err != nil {
		return paging.Portion[T]{}, err
	}

	sel := fmt.Sprintf(
		"SELECT position, payload FROM %s FINAL WHERE query_key = ? AND position >= ? AND position < ? ORDER BY position",
		r.itemsTable,
	)
	rows, err := r.client.Conn().Query(ctx, sel, query, uint64(start), uint64(start+size))
	if err != nil {
		return paging.Portion[T]{}, fmt.Errorf("failed to read items: %w", err)
	}
	defer rows.Close()

	values := map[int]T{}
	for rows.Next() {
		var (
			position uint64
			payload  string
		)
		if err := rows.Scan(&position, &payload); err != nil {
			return paging.Portion[T]{}, fmt.Errorf("failed to scan item: %w", err)
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return paging.Portion[T]{}, fmt.Errorf("failed to decode payload at position %d: %w", position, err)
		}
		values[int(position)] = v
	}
	if err := rows.Err(); err != nil {
		return paging.Portion[T]{}, fmt.Errorf("failed to read items: %w", err)
	}
	return paging.NewPortion(total, values), nil
}

// readTotal returns the stored total for query, 0 when none is stored.
func (r *Repository[T]) readTotal(ctx context.Context, query string) (int, error) {
	sel := fmt.Sprintf("SELECT total FROM %s FINAL WHERE query_key = ?", r.totalsTable)
	var total uint64
	err := r.client.Conn().QueryRow(ctx, sel, query).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read total: %w", err)
	}
	return int(total), nil
}

// Save batch-inserts the portion's values and writes the new stored total.
// The ReplacingMergeTree engine resolves conflicting positions in favor of
// the newest row.
func (r *Repository[T]) Save(ctx context.Context, query string, portion paging.Portion[T]) error {
	if len(portion.Values) > 0 {
		ins := fmt.Sprintf("INSERT INTO %s (query_key, position, payload)", r.itemsTable)
		batch, err := r.client.Conn().PrepareBatch(ctx, ins)
		if err != nil {
			return fmt.Errorf("failed to prepare items batch: %w", err)
		}
		for k, v := range portion.Values {
			payload, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode payload at position %d: %w", k, err)
			}
			if err := batch.Append(query, uint64(k), string(payload)); err != nil {
				return fmt.Errorf("failed to append item at position %d: %w", k, err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to insert items: %w", err)
		}
	}

	ins := fmt.Sprintf("INSERT INTO %s (query_key, total) VALUES (?, ?)", r.totalsTable)
	if err := r.client.Conn().Exec(ctx, ins, query, uint64(portion.TotalSize)); err != nil {
		return fmt.Errorf("failed to write total: %w", err)
	}
	return nil
}

// Clear removes all cached data and the stored total for query.
func (r *Repository[T]) Clear(ctx context.Context, query string) error {
	del := fmt.Sprintf("ALTER TABLE %s DELETE WHERE query_key = ?", r.itemsTable)
	if err := r.client.Conn().Exec(ctx, del, query); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	del = fmt.Sprintf("ALTER TABLE %s DELETE WHERE query_key = ?", r.totalsTable)
	if err := r.client.Conn().Exec(ctx, del, query); err != nil {
		return fmt.Errorf("failed to clear total: %w", err)
	}
	return nil
}

var _ paging.LocalSource[int, string] = (*Repository[int])(nil)
