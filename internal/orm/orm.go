// Package orm runs registry-resolved queries against a connection pool.
//
// A DB ties together the model registry, the SQL dialect of the backend and
// the pool. Queries start from DB.Model and execute through one of three
// paths: row-returning (All, First), single-value (Count, Scalar) and
// row-less (Update, Delete, Insert).
//
//	posts, err := db.Model("blog.Post").
//	    Filter(query.Eq("status", "published")).
//	    SelectRelated("author").
//	    OrderBy("-created_at").
//	    Limit(20).
//	    All(ctx)
package orm

import (
	"context"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/dialect"
	"github.com/koustreak/orma/internal/logger"
	"github.com/koustreak/orma/internal/pool"
	"github.com/koustreak/orma/internal/schema"
)

// DB is the query-facing entry point. It is safe for concurrent use; a DB
// returned to a Transaction callback is bound to that transaction and is not.
type DB struct {
	pool    *pool.Pool
	reg     *schema.Registry
	dialect dialect.Dialect
	log     *logger.Logger

	// tx is set on a DB bound to a transaction.
	tx *pool.Tx
}

// New returns a DB over p. reg must be initialized and d must match the
// backend behind p.
func New(p *pool.Pool, reg *schema.Registry, d dialect.Dialect, log *logger.Logger) *DB {
	if log == nil {
		log = logger.Nop()
	}
	return &DB{
		pool:    p,
		reg:     reg,
		dialect: d,
		log:     log.Component("orm"),
	}
}

// Registry returns the model registry queries resolve against.
func (db *DB) Registry() *schema.Registry { return db.reg }

// Dialect returns the SQL dialect statements are compiled with.
func (db *DB) Dialect() dialect.Dialect { return db.dialect }

// Model starts a query on the model registered as id.
func (db *DB) Model(id string) *QuerySet {
	return newQuerySet(db, id)
}

// Insert adds one row to the model's table and returns its primary key.
func (db *DB) Insert(ctx context.Context, id string, values map[string]any) (any, error) {
	return db.Model(id).Insert(ctx, values)
}

// Transaction runs fn inside one transaction. Every query made through the
// DB passed to fn runs on the transaction; fn's error or panic rolls it
// back. Calling Transaction on a DB that is already bound reuses the
// enclosing transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	if db.tx != nil {
		return fn(db)
	}
	return db.pool.WithTransaction(ctx, func(tx *pool.Tx) error {
		bound := *db
		bound.tx = tx
		return fn(&bound)
	})
}

// executor is where statements of this DB run.
func (db *DB) executor() database.Executor {
	if db.tx != nil {
		return db.tx
	}
	return db.pool
}
