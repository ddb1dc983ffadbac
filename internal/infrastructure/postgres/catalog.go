package postgres

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/vidmaint/internal/infrastructure/metrics"
)

// ColumnKind selects how a column is rewritten.
type ColumnKind string

const (
	ColumnJSON ColumnKind = "json"
	ColumnText ColumnKind = "text"
)

// Column is one textual or JSON column that may hold video references.
type Column struct {
	Schema   string
	Table    string
	Name     string
	DataType string
	Kind     ColumnKind
}

func (c Column) String() string {
	return c.Table + "." + c.Name
}

// Catalog discovers candidate columns once per process. The loaded list is
// immutable; failed loads are not cached.
type Catalog struct {
	db     DBTX
	schema string

	group singleflight.Group
	mu    sync.RWMutex
	cols  []Column
}

// NewCatalog creates a Catalog over schema.
func NewCatalog(db DBTX, schema string) *Catalog {
	if schema == "" {
		schema = "public"
	}
	return &Catalog{db: db, schema: schema}
}

// Columns returns the candidate columns, loading them on first use.
// Concurrent first calls share one catalog query.
func (c *Catalog) Columns(ctx context.Context) ([]Column, error) {
	c.mu.RLock()
	cols := c.cols
	c.mu.RUnlock()
	if cols != nil {
		return cols, nil
	}

	v, err, shared := c.group.Do(c.schema, func() (any, error) {
		cols, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cols = cols
		c.mu.Unlock()
		return cols, nil
	})
	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.([]Column), nil
}

func (c *Catalog) load(ctx context.Context) ([]Column, error) {
	const query = `
		SELECT c.table_name, c.column_name, c.data_type
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = $1
		  AND t.table_type = 'BASE TABLE'
		  AND c.data_type IN ('json', 'jsonb', 'text', 'character varying')
		  AND c.is_generated = 'NEVER'
		  AND c.is_updatable = 'YES'
		ORDER BY c.table_name, c.ordinal_position
	`

	rows, err := c.db.Query(ctx, query, c.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query column catalog: %w", err)
	}
	defer rows.Close()

	cols := make([]Column, 0)
	for rows.Next() {
		col := Column{Schema: c.schema}
		if err := rows.Scan(&col.Table, &col.Name, &col.DataType); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Kind = ColumnText
		if col.DataType == "json" || col.DataType == "jsonb" {
			col.Kind = ColumnJSON
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	return cols, nil
}
