package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoadConfig_Defaults(t *testing.T) {
	resetGatewayEnv(t)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q, want 0.0.0.0:8080", cfg.HTTPAddr)
	}
	if cfg.TCPAddr != "0.0.0.0:9999" {
		t.Fatalf("TCPAddr = %q, want 0.0.0.0:9999", cfg.TCPAddr)
	}
	if cfg.DBDriver != "mysql" || cfg.DBPort != 3306 || cfg.DBTable != "testextron" {
		t.Fatalf("db = %s:%d table %s", cfg.DBDriver, cfg.DBPort, cfg.DBTable)
	}
	if cfg.DBRetryInterval != 5*time.Second {
		t.Fatalf("retry interval = %s, want 5s", cfg.DBRetryInterval)
	}
	if cfg.TCPMaxFrameSize != 100 {
		t.Fatalf("frame size = %d, want 100", cfg.TCPMaxFrameSize)
	}
	if cfg.HealthTimeout != 3*time.Second {
		t.Fatalf("health timeout = %s, want 3s", cfg.HealthTimeout)
	}
	if cfg.ConfigPath != "" {
		t.Fatalf("ConfigPath = %q, want empty", cfg.ConfigPath)
	}
}

func TestLoadConfig_AddressResolution(t *testing.T) {
	resetGatewayEnv(t)

	tests := []struct {
		name         string
		configYAML   string
		wantErr      bool
		wantHTTPAddr string
		wantTCPAddr  string
		errSubstring string
	}{
		{
			name: "host applies to derived addresses",
			configYAML: `
host: 127.0.0.1
http-port: 8180
tcp-port: 9199
`,
			wantHTTPAddr: "127.0.0.1:8180",
			wantTCPAddr:  "127.0.0.1:9199",
		},
		{
			name: "explicit addresses override host and ports",
			configYAML: `
host: 127.0.0.1
http-addr: 10.0.0.5:8888
tcp-addr: 10.0.0.5:7777
`,
			wantHTTPAddr: "10.0.0.5:8888",
			wantTCPAddr:  "10.0.0.5:7777",
		},
		{
			name:         "invalid tcp port rejected",
			configYAML:   `tcp-port: 70000`,
			wantErr:      true,
			errSubstring: "invalid tcp-port",
		},
		{
			name: "both surfaces disabled rejected",
			configYAML: `
http-enabled: false
tcp-enabled: false
`,
			wantErr:      true,
			errSubstring: "at least one",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeTempConfig(t, tt.configYAML)
			cfg, err := loadConfig(configPath)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errSubstring != "" && !strings.Contains(err.Error(), tt.errSubstring) {
					t.Fatalf("error = %q, want substring %q", err.Error(), tt.errSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig returned error: %v", err)
			}
			if cfg.HTTPAddr != tt.wantHTTPAddr {
				t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tt.wantHTTPAddr)
			}
			if cfg.TCPAddr != tt.wantTCPAddr {
				t.Fatalf("TCPAddr = %q, want %q", cfg.TCPAddr, tt.wantTCPAddr)
			}
			if cfg.ConfigPath != configPath {
				t.Fatalf("ConfigPath = %q, want %q", cfg.ConfigPath, configPath)
			}
		})
	}
}

func TestLoadConfig_DatabaseSettings(t *testing.T) {
	resetGatewayEnv(t)

	tests := []struct {
		name         string
		configYAML   string
		wantErr      bool
		errSubstring string
		assert       func(t *testing.T, cfg appConfig)
	}{
		{
			name: "mysql dsn built from target fields",
			configYAML: `
db-host: db.internal
db-user: fast_api
db-password: mypw
db-name: devdb
`,
			assert: func(t *testing.T, cfg appConfig) {
				t.Helper()
				d := mustLookup(t, cfg.DBDriver)
				if got := cfg.dataSource(d); !strings.Contains(got, "fast_api:mypw@tcp(db.internal:3306)/devdb") {
					t.Fatalf("dsn = %q", got)
				}
			},
		},
		{
			name: "pgx gets postgres default port",
			configYAML: `
db-driver: PGX
db-host: db.internal
`,
			assert: func(t *testing.T, cfg appConfig) {
				t.Helper()
				if cfg.DBDriver != "pgx" || cfg.DBPort != 5432 {
					t.Fatalf("driver = %s port = %d", cfg.DBDriver, cfg.DBPort)
				}
			},
		},
		{
			name: "explicit dsn wins",
			configYAML: `
db-driver: sqlite
db-dsn: file:/tmp/metrics.db
`,
			assert: func(t *testing.T, cfg appConfig) {
				t.Helper()
				if got := cfg.dataSource(mustLookup(t, cfg.DBDriver)); got != "file:/tmp/metrics.db" {
					t.Fatalf("dsn = %q", got)
				}
			},
		},
		{
			name:         "sqlite requires a path",
			configYAML:   `db-driver: sqlite`,
			wantErr:      true,
			errSubstring: "db-path is required",
		},
		{
			name:         "unknown driver rejected",
			configYAML:   `db-driver: oracle`,
			wantErr:      true,
			errSubstring: "unsupported database driver",
		},
		{
			name:         "zero retry interval rejected",
			configYAML:   `db-retry-interval: 0s`,
			wantErr:      true,
			errSubstring: "invalid db-retry-interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeTempConfig(t, tt.configYAML))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errSubstring) {
					t.Fatalf("error = %q, want substring %q", err.Error(), tt.errSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig returned error: %v", err)
			}
			tt.assert(t, cfg)
		})
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	resetGatewayEnv(t)
	t.Setenv("METRICGW_DB_TABLE", "metrics")
	t.Setenv("METRICGW_TCP_MAX_FRAME_SIZE", "256")

	cfg, err := loadConfig(writeTempConfig(t, `db-table: testextron`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.DBTable != "metrics" {
		t.Fatalf("DBTable = %q, want metrics", cfg.DBTable)
	}
	if cfg.TCPMaxFrameSize != 256 {
		t.Fatalf("TCPMaxFrameSize = %d, want 256", cfg.TCPMaxFrameSize)
	}
}

func TestRedactedConfigHidesPassword(t *testing.T) {
	resetGatewayEnv(t)

	cfg, err := loadConfig(writeTempConfig(t, `
db-password: mypw
db-dsn: admin:hunter2@tcp(10.0.0.9:3306)/devdb
`))
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}

	out, err := yaml.Marshal(cfg.redacted())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	text := string(out)
	if strings.Contains(text, "mypw") || strings.Contains(text, "hunter2") {
		t.Fatalf("secret leaked:\n%s", text)
	}
	if !strings.Contains(text, "db-table: testextron") {
		t.Fatalf("expected yaml keys, got:\n%s", text)
	}
	if cfg.DBPassword != "mypw" {
		t.Fatal("redacted() must not modify the original config")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func resetGatewayEnv(t *testing.T) {
	t.Helper()

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "METRICGW_") {
			continue
		}
		// t.Setenv restores the original value on cleanup.
		t.Setenv(key, value)
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}
