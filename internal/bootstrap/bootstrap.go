// Package bootstrap turns a config.Config into a running set of
// components: backend driver, pool, dialect, registry, migration store,
// migration engine and ORM handle.
package bootstrap

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/koustreak/orma/internal/config"
	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/database/mysql"
	"github.com/koustreak/orma/internal/database/postgres"
	"github.com/koustreak/orma/internal/database/sqlite"
	"github.com/koustreak/orma/internal/dialect"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/filestore"
	"github.com/koustreak/orma/internal/filestore/local"
	"github.com/koustreak/orma/internal/filestore/minio"
	"github.com/koustreak/orma/internal/logger"
	"github.com/koustreak/orma/internal/migrate"
	"github.com/koustreak/orma/internal/orm"
	"github.com/koustreak/orma/internal/pool"
	"github.com/koustreak/orma/internal/schema"
)

// Runtime holds the wired components. Registry and DB are nil when no
// models document was found.
type Runtime struct {
	Config     *config.Config
	Log        *logger.Logger
	Driver     database.Driver
	Pool       *pool.Pool
	Dialect    dialect.Dialect
	Registry   *schema.Registry
	Store      filestore.Store
	Migrations *migrate.Engine
	DB         *orm.DB
}

// Open wires every component from cfg. On error, whatever was opened is
// closed again.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if rt.Dialect, err = dialect.ForName(cfg.Database.Engine); err != nil {
		return rt, err
	}
	if rt.Registry, err = LoadModels(cfg.Models); err != nil {
		return rt, err
	}
	if rt.Registry == nil {
		log.WarnWith("no models document, diffing is disabled", nil, map[string]any{"path": cfg.Models})
	}
	if rt.Store, err = OpenStore(ctx, cfg.StoreConfig()); err != nil {
		return rt, err
	}
	if rt.Driver, err = OpenDriver(cfg.DriverConfig()); err != nil {
		return rt, err
	}
	if rt.Pool, err = pool.New(ctx, rt.Driver, cfg.PoolConfig(), log); err != nil {
		return rt, err
	}

	rt.Migrations = migrate.New(rt.Pool, rt.Dialect, rt.Registry, rt.Store, cfg.MigrateConfig(), log)
	if rt.Registry != nil {
		rt.DB = orm.New(rt.Pool, rt.Registry, rt.Dialect, log)
	}
	log.InfoWith("runtime ready", map[string]any{
		"engine": cfg.Database.Engine,
		"models": modelCount(rt.Registry),
	})
	return rt, nil
}

// Close releases the pool, the driver and the store.
func (rt *Runtime) Close() {
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Driver != nil {
		if err := rt.Driver.Close(); err != nil {
			rt.Log.WarnWith("failed to close driver", err, nil)
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			rt.Log.WarnWith("failed to close migration store", err, nil)
		}
	}
}

// OpenDriver returns the backend driver for cfg.Engine. It does not dial.
func OpenDriver(cfg *database.Config) (database.Driver, error) {
	switch cfg.Engine {
	case database.EnginePostgres, database.EngineCockroach:
		drv, err := postgres.New(cfg)
		if err != nil {
			return nil, err
		}
		return drv, nil
	case database.EngineMySQL:
		drv, err := mysql.New(cfg)
		if err != nil {
			return nil, err
		}
		return drv, nil
	case database.EngineSQLite:
		drv, err := sqlite.New(cfg)
		if err != nil {
			return nil, err
		}
		return drv, nil
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported engine %q", cfg.Engine)
}

// OpenStore returns the migration file store for cfg.Provider.
func OpenStore(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	switch cfg.Provider {
	case filestore.ProviderLocal, "":
		s, err := local.New(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case filestore.ProviderMinIO:
		s, err := minio.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported store provider %q", cfg.Provider)
}

// LoadModels reads a models document and initialises a registry from it.
// A missing file yields a nil registry.
func LoadModels(path string) (*schema.Registry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to open models document", err)
	}
	defer f.Close()

	reg := schema.NewRegistry()
	if err := reg.LoadYAML(f); err != nil {
		return nil, err
	}
	if err := reg.Init(); err != nil {
		return nil, err
	}
	return reg, nil
}

func modelCount(reg *schema.Registry) int {
	if reg == nil {
		return 0
	}
	return len(reg.Models())
}
