package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	LedgerModeDev    = "dev"
	LedgerModeSigner = "signer"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type Config struct {
	AppPort string

	RecordStoreDriver string
	MySQLHost         string
	MySQLPort         string
	MySQLDB           string
	MySQLUser         string
	MySQLPass         string
	PostgresDSN       string
	SQLitePath        string

	RedisAddr     string
	RedisDB       int
	RedisWaitSecs int

	IdempTTLSecs int

	LockBackend  string
	LockTTLSecs  int
	LedgerMode   string
	SignerURL    string
	ConfirmSecs  int
	WriteSecs    int
	ReconcileSec int
	ReconcileMax int
	IdentityTTL  int

	OTLPEndpoint string
	LogLevel     string
	LogFormat    string
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getint(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func Load() *Config {
	return &Config{
		AppPort: getenv("APP_PORT", "8080"),

		RecordStoreDriver: strings.ToLower(getenv("RECORD_STORE_DRIVER", "mysql")),
		MySQLHost:         getenv("MYSQL_HOST", "mysql"),
		MySQLPort:         getenv("MYSQL_PORT", "3306"),
		MySQLDB:           getenv("MYSQL_DB", "p2plend"),
		MySQLUser:         getenv("MYSQL_USER", "p2plend"),
		MySQLPass:         getenv("MYSQL_PASS", "p2plend"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		SQLitePath:        getenv("SQLITE_PATH", "p2plend.db"),

		RedisAddr:     getenv("REDIS_ADDR", "redis:6379"),
		RedisDB:       getint("REDIS_DB", 0),
		RedisWaitSecs: getint("REDIS_STARTUP_WAIT_SECONDS", 15),
		IdempTTLSecs:  getint("IDEMPOTENCY_TTL_SECONDS", 300),

		LockBackend:  strings.ToLower(getenv("LOCK_BACKEND", LockBackendMemory)),
		LockTTLSecs:  getint("LOCK_TTL_SECONDS", 120),
		LedgerMode:   strings.ToLower(getenv("LEDGER_MODE", LedgerModeDev)),
		SignerURL:    os.Getenv("SIGNER_URL"),
		ConfirmSecs:  getint("CONFIRM_TIMEOUT_SECONDS", 60),
		WriteSecs:    getint("RECORD_WRITE_TIMEOUT_SECONDS", 10),
		ReconcileSec: getint("RECONCILE_INTERVAL_SECONDS", 300),
		ReconcileMax: getint("RECONCILE_MAX_ATTEMPTS", 10),
		IdentityTTL:  getint("IDENTITY_CACHE_TTL_SECONDS", 600),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "json"),
	}
}

func (c *Config) Validate() error {
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	switch c.RecordStoreDriver {
	case "mysql":
		if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
			return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
		}
		// ensure port is valid
		if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("missing POSTGRES_DSN")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("missing SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported RECORD_STORE_DRIVER %q", c.RecordStoreDriver)
	}

	switch c.LedgerMode {
	case LedgerModeDev:
	case LedgerModeSigner:
		if c.SignerURL == "" {
			return errors.New("LEDGER_MODE=signer requires SIGNER_URL")
		}
	default:
		return fmt.Errorf("unsupported LEDGER_MODE %q", c.LedgerMode)
	}

	switch c.LockBackend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("unsupported LOCK_BACKEND %q", c.LockBackend)
	}
	if c.ConfirmSecs <= 0 || c.WriteSecs <= 0 || c.ReconcileSec <= 0 || c.ReconcileMax <= 0 {
		return errors.New("timeouts, reconcile interval and attempts must be positive")
	}
	// a lock that expires mid-operation would let a second writer in
	if c.LockBackend == LockBackendRedis && c.LockTTLSecs <= c.ConfirmSecs+c.WriteSecs {
		return fmt.Errorf("LOCK_TTL_SECONDS (%d) must exceed CONFIRM_TIMEOUT_SECONDS + RECORD_WRITE_TIMEOUT_SECONDS (%d)",
			c.LockTTLSecs, c.ConfirmSecs+c.WriteSecs)
	}
	return nil
}

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// multiStatements=true is handy for migrations; parseTime needed for DATETIME
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?multiStatements=true&parseTime=true&charset=utf8mb4,utf8",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}

// RecordStoreDSN is the DSN for the configured driver.
func (c *Config) RecordStoreDSN() string {
	switch c.RecordStoreDriver {
	case "postgres":
		return c.PostgresDSN
	case "sqlite":
		return c.SQLitePath
	}
	return c.MySQLDSN()
}

func (c *Config) IdempotencyTTL() time.Duration { return time.Duration(c.IdempTTLSecs) * time.Second }
func (c *Config) LockTTL() time.Duration        { return time.Duration(c.LockTTLSecs) * time.Second }
func (c *Config) ConfirmTimeout() time.Duration { return time.Duration(c.ConfirmSecs) * time.Second }
func (c *Config) WriteTimeout() time.Duration   { return time.Duration(c.WriteSecs) * time.Second }
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileSec) * time.Second
}
func (c *Config) RedisStartupWait() time.Duration { return time.Duration(c.RedisWaitSecs) * time.Second }
func (c *Config) IdentityCacheTTL() time.Duration { return time.Duration(c.IdentityTTL) * time.Second }
