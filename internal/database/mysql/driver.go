package mysql

import (
	"database/sql"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/database/sqldb"
	"github.com/koustreak/orma/internal/errs"
)

// New builds a MySQL driver from cfg.DSN. It does not dial.
//
// MySQL commits DDL implicitly, so the driver reports no transactional DDL
// and the migration engine falls back to compensating operations.
func New(cfg *database.Config) (*sqldb.Driver, error) {
	mc, err := gomysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	mc.ParseTime = true
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}

	connector, err := gomysql.NewConnector(mc)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid mysql config", err)
	}

	db := sql.OpenDB(connector)
	// internal/pool owns idle connections; a closed *sql.Conn must really close.
	db.SetMaxIdleConns(0)

	return sqldb.New(database.EngineMySQL, db, sqldb.Options{
		TransactionalDDL: false,
		MapError:         mapError,
	}), nil
}
