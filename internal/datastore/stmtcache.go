package datastore

import (
	"database/sql"
	"sync"
)

// stmtCache lazily prepares and reuses statements for the single-row
// lookups that run on every request. Cached statements stay valid for
// the lifetime of the underlying handle.
type stmtCache struct {
	mu         sync.RWMutex
	statements map[string]*sql.Stmt
	db         *sql.DB
}

func newStmtCache(db *sql.DB) *stmtCache {
	return &stmtCache{
		statements: make(map[string]*sql.Stmt),
		db:         db,
	}
}

// get returns the prepared statement for query, preparing it on first
// use.
func (c *stmtCache) get(query string) (*sql.Stmt, error) {
	c.mu.RLock()
	if stmt, ok := c.statements[query]; ok {
		c.mu.RUnlock()
		return stmt, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have prepared it while we waited for the lock.
	if stmt, ok := c.statements[query]; ok {
		return stmt, nil
	}

	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	c.statements[query] = stmt
	return stmt, nil
}

// close closes every cached statement and empties the cache.
func (c *stmtCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for _, stmt := range c.statements {
		if err := stmt.Close(); err != nil {
			lastErr = err
		}
	}
	c.statements = make(map[string]*sql.Stmt)
	return lastErr
}

// size reports how many statements are cached.
func (c *stmtCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statements)
}
