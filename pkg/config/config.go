// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"accounts-ledger/pkg/account"
	"accounts-ledger/pkg/account/redis"
	"accounts-ledger/pkg/compensation"
	"accounts-ledger/pkg/postgres"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full process configuration.
type Config struct {
	Port string

	// StoreBackend is memory, postgres or redis
	StoreBackend string
	Postgres     postgres.Config
	Redis        redis.Config

	// ClientServiceURL is the owner directory. Empty means no directory.
	ClientServiceURL string

	MasterAccountNumber int64

	RetryBaseDelay      time.Duration
	RetryAttemptTimeout time.Duration

	CompensationMode   compensation.Mode
	CompensationStream string

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration

	ShutdownTimeout time.Duration
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		Port:                "8080",
		StoreBackend:        BackendMemory,
		Postgres:            postgres.DefaultConfig(),
		Redis:               redis.DefaultConfig(),
		MasterAccountNumber: account.DefaultMasterAccountNumber,
		RetryBaseDelay:      50 * time.Millisecond,
		RetryAttemptTimeout: 2 * time.Second,
		CompensationMode:    compensation.ModeLog,
		CompensationStream:  compensation.DefaultStream,
		ReconcileInterval:   time.Minute,
		ReconcileGrace:      5 * time.Minute,
		ShutdownTimeout:     10 * time.Second,
	}
}

// FromEnv reads the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup, starting from Default.
func Load(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	e := env{lookup: lookup}

	c.Port = e.str("PORT", c.Port)
	c.StoreBackend = strings.ToLower(e.str("STORE_BACKEND", c.StoreBackend))

	c.Postgres.Host = e.str("POSTGRES_HOST", c.Postgres.Host)
	c.Postgres.Port = e.int("POSTGRES_PORT", c.Postgres.Port)
	c.Postgres.User = e.str("POSTGRES_USER", c.Postgres.User)
	c.Postgres.Password = e.str("POSTGRES_PASSWORD", c.Postgres.Password)
	c.Postgres.Database = e.str("POSTGRES_DB", c.Postgres.Database)
	c.Postgres.SSLMode = e.str("POSTGRES_SSLMODE", c.Postgres.SSLMode)

	c.Redis.Addr = e.str("REDIS_ADDR", c.Redis.Addr)
	if nodes := e.str("REDIS_CLUSTER_NODES", ""); nodes != "" {
		c.Redis.ClusterAddrs = strings.Split(nodes, ",")
	}
	c.Redis.Password = e.str("REDIS_PASSWORD", c.Redis.Password)

	c.ClientServiceURL = e.str("CLIENT_SERVICE_URL", c.ClientServiceURL)
	c.MasterAccountNumber = int64(e.int("MASTER_ACCOUNT_NUMBER", int(c.MasterAccountNumber)))

	c.RetryBaseDelay = e.duration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryAttemptTimeout = e.duration("RETRY_ATTEMPT_TIMEOUT", c.RetryAttemptTimeout)

	mode := e.str("COMPENSATION_MODE", string(c.CompensationMode))
	c.CompensationStream = e.str("COMPENSATION_STREAM", c.CompensationStream)

	c.ReconcileInterval = e.duration("RECONCILE_INTERVAL", c.ReconcileInterval)
	c.ReconcileGrace = e.duration("RECONCILE_GRACE", c.ReconcileGrace)
	c.ShutdownTimeout = e.duration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	if e.err != nil {
		return Config{}, e.err
	}

	m, err := compensation.ParseMode(mode)
	if err != nil {
		return Config{}, err
	}
	c.CompensationMode = m

	return c, c.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.MasterAccountNumber <= 0 {
		return fmt.Errorf("config: MASTER_ACCOUNT_NUMBER must be positive, got %d", c.MasterAccountNumber)
	}
	if c.RetryBaseDelay < 0 || c.RetryAttemptTimeout < 0 {
		return fmt.Errorf("config: retry durations must not be negative")
	}
	return nil
}

type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: invalid %s=%q: %w", key, value, err)
	}
}
