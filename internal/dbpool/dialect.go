package dbpool

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect describes how to talk to one database/sql driver.
type Dialect struct {
	Name       string // config name
	DriverName string // database/sql driver name
	numbered   bool   // $1, $2 placeholders instead of ?
	network    bool   // connects to a server rather than a local file
}

var dialects = map[string]Dialect{
	"mysql":  {Name: "mysql", DriverName: "mysql", network: true},
	"pgx":    {Name: "pgx", DriverName: "pgx", numbered: true, network: true},
	"sqlite": {Name: "sqlite", DriverName: "sqlite"},
	"duckdb": {Name: "duckdb", DriverName: "duckdb"},
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported database driver %q (want mysql, pgx, sqlite or duckdb)", name)
	}
	return d, nil
}

// Placeholder returns the bind marker for the n-th (1-based) parameter.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count comma-separated bind markers.
func (d Dialect) Placeholders(count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = d.Placeholder(i + 1)
	}
	return strings.Join(marks, ", ")
}

// Networked reports whether the dialect connects to a database server.
func (d Dialect) Networked() bool {
	return d.network
}

// Target holds the connection fields used when no explicit DSN is configured.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Path     string // file path for sqlite/duckdb; empty duckdb path is in-memory
}

// DSN builds a driver-specific data source name from t.
func (d Dialect) DSN(t Target) string {
	switch d.Name {
	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = t.User
		cfg.Passwd = t.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
		cfg.DBName = t.Database
		return cfg.FormatDSN()
	case "pgx":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(t.User, t.Password),
			Host:     net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
			Path:     "/" + t.Database,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	case "sqlite":
		return "file:" + t.Path + "?_pragma=busy_timeout(5000)"
	default:
		return t.Path
	}
}

// Redact returns dsn with any password replaced, for logging.
func (d Dialect) Redact(dsn string) string {
	switch d.Name {
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "<unparseable dsn>"
		}
		if cfg.Passwd != "" {
			cfg.Passwd = "xxxxx"
		}
		return cfg.FormatDSN()
	case "pgx":
		u, err := url.Parse(dsn)
		if err != nil {
			return "<unparseable dsn>"
		}
		return u.Redacted()
	default:
		return dsn
	}
}
