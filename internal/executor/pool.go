package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/quackql/quackql/internal/config"
	"github.com/quackql/quackql/internal/storage"
)

// Pool caches one DuckDB handle per distinct data source. Database files are
// opened read-only; parquet sources get an in-memory database with a view
// under the tool's table name. Handles live for the process lifetime and are
// shared by concurrent requests (database/sql serializes access per
// connection).
type Pool struct {
	fetcher *storage.Fetcher

	mu    sync.Mutex
	conns map[poolKey]*sql.DB
}

// Database files ignore the table name: the same read-only handle serves any
// table in the file.
type poolKey struct {
	locator string
	table   string
}

func NewPool(fetcher *storage.Fetcher) *Pool {
	return &Pool{
		fetcher: fetcher,
		conns:   map[poolKey]*sql.DB{},
	}
}

func (p *Pool) Acquire(ctx context.Context, tool config.ToolConfig) (*sql.DB, error) {
	key, err := keyFor(tool)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.conns[key]; ok {
		return db, nil
	}

	var db *sql.DB
	if tool.DBPath != "" {
		db, err = openDatabaseFile(ctx, tool.DBPath)
	} else {
		db, err = p.openParquetView(ctx, tool.ParquetPath, key.table)
	}
	if err != nil {
		return nil, err
	}
	p.conns[key] = db
	return db, nil
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, db := range p.conns {
		_ = db.Close()
		delete(p.conns, key)
	}
}

func keyFor(tool config.ToolConfig) (poolKey, error) {
	if tool.DBPath != "" {
		return poolKey{locator: tool.DBPath}, nil
	}
	if tool.ParquetPath != "" {
		return poolKey{locator: tool.ParquetPath, table: tool.ResolvedTableName()}, nil
	}
	return poolKey{}, fmt.Errorf("tool %q has no data source", tool.Name)
}

func openDatabaseFile(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	return db, nil
}

func (p *Pool) openParquetView(ctx context.Context, locator, table string) (*sql.DB, error) {
	localPath := locator
	if p.fetcher != nil {
		resolved, err := p.fetcher.Resolve(ctx, locator)
		if err != nil {
			return nil, fmt.Errorf("resolve parquet source %q: %w", locator, err)
		}
		localPath = resolved
	} else if storage.IsRemote(locator) {
		return nil, fmt.Errorf("parquet source %q requires an object store configuration", locator)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open in-memory duckdb: %w", err)
	}
	viewSQL := fmt.Sprintf(
		`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`,
		QuoteIdent(table), quoteString(localPath),
	)
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create view over %q: %w", locator, err)
	}
	return db, nil
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
