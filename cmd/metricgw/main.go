package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/metricgw/internal/dbpool"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion, printConfig bool

	flag.StringVar(&configPath, "config", "", "config file (YAML)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("metricgw - Control Processor Metric Gateway\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if printConfig {
		out, err := yaml.Marshal(cfg.redacted())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	v := viper.New()
	v.SetEnvPrefix("METRICGW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("http-enabled", true)
	v.SetDefault("http-port", defaultHTTPPort)
	v.SetDefault("http-max-connections", defaultHTTPMaxConnections)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("tcp-max-frame-size", defaultTCPMaxFrameSize)
	v.SetDefault("tcp-read-timeout", defaultTCPReadTimeout)
	v.SetDefault("tcp-max-connections", defaultTCPMaxConnections)
	v.SetDefault("db-driver", defaultDBDriver)
	v.SetDefault("db-dsn", "")
	v.SetDefault("db-host", defaultDBHost)
	v.SetDefault("db-port", 0)
	v.SetDefault("db-user", defaultDBUser)
	v.SetDefault("db-password", "")
	v.SetDefault("db-name", defaultDBName)
	v.SetDefault("db-path", "")
	v.SetDefault("db-table", defaultDBTable)
	v.SetDefault("db-max-open-conns", defaultDBMaxOpenConns)
	v.SetDefault("db-max-idle-conns", defaultDBMaxIdleConns)
	v.SetDefault("db-conn-max-lifetime", defaultDBConnMaxLifetime)
	v.SetDefault("db-conn-max-idle-time", defaultDBConnMaxIdleTime)
	v.SetDefault("db-retry-interval", defaultDBRetryInterval)
	v.SetDefault("db-connect-timeout", defaultDBConnectTimeout)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("ready-wait", defaultReadyWait)
	v.SetDefault("health-timeout", defaultHealthTimeout)
	v.SetDefault("health-cache-ttl", defaultHealthCacheTTL)
	v.SetDefault("rate-limit-rps", defaultRateLimitRPS)
	v.SetDefault("rate-limit-burst", defaultRateLimitBurst)
	v.SetDefault("rate-limit-expire", defaultRateLimitExpire)
	v.SetDefault("metrics-enabled", true)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-file", "")
	// Bound so AutomaticEnv can override keys that have no file value.
	v.SetDefault("http-addr", "")
	v.SetDefault("tcp-addr", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var configFileNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
				return cfg, err
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg *appConfig) error {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("invalid http-port: %d", cfg.HTTPPort)
	}
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.TCPMaxFrameSize <= 0 {
		return fmt.Errorf("invalid tcp-max-frame-size: %d", cfg.TCPMaxFrameSize)
	}
	if cfg.DBRetryInterval <= 0 {
		return fmt.Errorf("invalid db-retry-interval: %s", cfg.DBRetryInterval)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("invalid rate-limit-rps: %v", cfg.RateLimitRPS)
	}
	if !cfg.HTTPEnabled && !cfg.TCPEnabled {
		return errors.New("at least one of http-enabled or tcp-enabled must be set")
	}

	dialect, err := dbpool.LookupDialect(cfg.DBDriver)
	if err != nil {
		return err
	}
	cfg.DBDriver = dialect.Name
	if cfg.DBPort == 0 {
		cfg.DBPort = defaultDBPorts[dialect.Name]
	}
	if cfg.DBDSN == "" && dialect.Name == "sqlite" && cfg.DBPath == "" {
		return errors.New("db-path is required for the sqlite driver")
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.HTTPPort))
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	return nil
}

// dataSource returns the configured DSN or one built from the target fields.
func (c appConfig) dataSource(d dbpool.Dialect) string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	return d.DSN(dbpool.Target{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		Path:     c.DBPath,
	})
}
