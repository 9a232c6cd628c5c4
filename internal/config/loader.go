package config

import (
	"errors"
	"strings"

	"github.com/koustreak/orma/internal/errs"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "ORMA"
	configName = "orma"
	configType = "yaml"
)

// defaults seeds every key. Viper only consults the environment for keys it
// knows about, so each setting needs an entry here.
var defaults = map[string]any{
	"database.engine":             "",
	"database.dsn":                "",
	"database.connect_timeout_ms": 10000,

	"pool.min_connections":        2,
	"pool.max_connections":        10,
	"pool.acquire_timeout_ms":     5000,
	"pool.idle_timeout_ms":        300000,
	"pool.health_check_period_ms": 30000,
	"pool.statement_timeout_ms":   0,
	"pool.connect_retries":        3,
	"pool.retry_backoff_ms":       50,

	"models": "models.yaml",

	"migrations.provider":     "local",
	"migrations.dir":          "migrations",
	"migrations.endpoint":     "",
	"migrations.access_key":   "",
	"migrations.secret_key":   "",
	"migrations.use_ssl":      false,
	"migrations.region":       "",
	"migrations.bucket":       "",
	"migrations.prefix":       "",
	"migrations.lock_key":     "orma_migrations",
	"migrations.lock_ttl_ms":  600000,
	"migrations.lock_poll_ms": 500,

	"log.level":  "info",
	"log.format": "json",

	"diag.addr": "127.0.0.1:8089",
}

// Load reads path, or orma.yaml from the working directory when path is
// empty, and applies ORMA_* overrides. A missing orma.yaml is not an error;
// a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
