package main

import (
	"time"

	"github.com/tinytelemetry/metricgw/internal/dbpool"
	"github.com/tinytelemetry/metricgw/internal/health"
	"github.com/tinytelemetry/metricgw/internal/httpserver"
	"github.com/tinytelemetry/metricgw/internal/model"
	"github.com/tinytelemetry/metricgw/internal/ratelimit"
	"github.com/tinytelemetry/metricgw/internal/tcpserver"
)

const (
	defaultBindHost           = "0.0.0.0"
	defaultHTTPPort           = 8080
	defaultTCPPort            = 9999
	defaultTCPMaxFrameSize    = model.DefaultTCPMaxFrameSize
	defaultTCPReadTimeout     = tcpserver.DefaultReadTimeout
	defaultTCPMaxConnections  = tcpserver.DefaultMaxConnections
	defaultHTTPMaxConnections = httpserver.DefaultMaxConnections
	defaultDBDriver           = "mysql"
	defaultDBHost             = "127.0.0.1"
	defaultDBUser             = "fast_api"
	defaultDBName             = "devdb"
	defaultDBTable            = model.DefaultTable
	defaultDBMaxOpenConns     = 10
	defaultDBMaxIdleConns     = 5
	defaultDBConnMaxLifetime  = 30 * time.Minute
	defaultDBConnMaxIdleTime  = 5 * time.Minute
	defaultDBRetryInterval    = model.DefaultRetryInterval
	defaultDBConnectTimeout   = 5 * time.Second
	defaultQueryTimeout       = 30 * time.Second
	defaultReadyWait          = httpserver.DefaultReadyWait
	defaultHealthTimeout      = model.DefaultHealthTimeout
	defaultHealthCacheTTL     = health.DefaultCacheTTL
	defaultRateLimitRPS       = 20.0
	defaultRateLimitBurst     = 40
	defaultRateLimitExpire    = ratelimit.DefaultExpiresIn
	defaultLogLevel           = "info"

	redactedSecret = "xxxxx"
)

var defaultDBPorts = map[string]int{
	"mysql": 3306,
	"pgx":   5432,
}

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	HTTPEnabled        bool          `mapstructure:"http-enabled" yaml:"http-enabled"`
	HTTPPort           int           `mapstructure:"http-port" yaml:"http-port"`
	HTTPAddr           string        `mapstructure:"http-addr" yaml:"http-addr"`
	HTTPMaxConnections int           `mapstructure:"http-max-connections" yaml:"http-max-connections"`
	TCPEnabled         bool          `mapstructure:"tcp-enabled" yaml:"tcp-enabled"`
	TCPPort            int           `mapstructure:"tcp-port" yaml:"tcp-port"`
	TCPAddr            string        `mapstructure:"tcp-addr" yaml:"tcp-addr"`
	TCPMaxFrameSize    int           `mapstructure:"tcp-max-frame-size" yaml:"tcp-max-frame-size"`
	TCPReadTimeout     time.Duration `mapstructure:"tcp-read-timeout" yaml:"tcp-read-timeout"`
	TCPMaxConnections  int           `mapstructure:"tcp-max-connections" yaml:"tcp-max-connections"`
	DBDriver           string        `mapstructure:"db-driver" yaml:"db-driver"`
	DBDSN              string        `mapstructure:"db-dsn" yaml:"db-dsn"`
	DBHost             string        `mapstructure:"db-host" yaml:"db-host"`
	DBPort             int           `mapstructure:"db-port" yaml:"db-port"`
	DBUser             string        `mapstructure:"db-user" yaml:"db-user"`
	DBPassword         string        `mapstructure:"db-password" yaml:"db-password"`
	DBName             string        `mapstructure:"db-name" yaml:"db-name"`
	DBPath             string        `mapstructure:"db-path" yaml:"db-path"`
	DBTable            string        `mapstructure:"db-table" yaml:"db-table"`
	DBMaxOpenConns     int           `mapstructure:"db-max-open-conns" yaml:"db-max-open-conns"`
	DBMaxIdleConns     int           `mapstructure:"db-max-idle-conns" yaml:"db-max-idle-conns"`
	DBConnMaxLifetime  time.Duration `mapstructure:"db-conn-max-lifetime" yaml:"db-conn-max-lifetime"`
	DBConnMaxIdleTime  time.Duration `mapstructure:"db-conn-max-idle-time" yaml:"db-conn-max-idle-time"`
	DBRetryInterval    time.Duration `mapstructure:"db-retry-interval" yaml:"db-retry-interval"`
	DBConnectTimeout   time.Duration `mapstructure:"db-connect-timeout" yaml:"db-connect-timeout"`
	QueryTimeout       time.Duration `mapstructure:"query-timeout" yaml:"query-timeout"`
	ReadyWait          time.Duration `mapstructure:"ready-wait" yaml:"ready-wait"`
	HealthTimeout      time.Duration `mapstructure:"health-timeout" yaml:"health-timeout"`
	HealthCacheTTL     time.Duration `mapstructure:"health-cache-ttl" yaml:"health-cache-ttl"`
	RateLimitRPS       float64       `mapstructure:"rate-limit-rps" yaml:"rate-limit-rps"`
	RateLimitBurst     int           `mapstructure:"rate-limit-burst" yaml:"rate-limit-burst"`
	RateLimitExpire    time.Duration `mapstructure:"rate-limit-expire" yaml:"rate-limit-expire"`
	MetricsEnabled     bool          `mapstructure:"metrics-enabled" yaml:"metrics-enabled"`
	LogLevel           string        `mapstructure:"log-level" yaml:"log-level"`
	LogFile            string        `mapstructure:"log-file" yaml:"log-file"`
	ConfigPath         string        `mapstructure:"-" yaml:"-"` // not from config file
}

// redacted returns a copy safe to print.
func (c appConfig) redacted() appConfig {
	if c.DBPassword != "" {
		c.DBPassword = redactedSecret
	}
	if c.DBDSN != "" {
		if d, err := dbpool.LookupDialect(c.DBDriver); err == nil {
			c.DBDSN = d.Redact(c.DBDSN)
		}
	}
	return c
}
