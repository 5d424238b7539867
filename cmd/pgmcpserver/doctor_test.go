package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgmcp "github.com/rickchristie/postgres-mcp-server"
)

// validServerConfig returns a minimal valid ServerConfig for testing.
func validServerConfig() pgmcp.ServerConfig {
	return pgmcp.ServerConfig{
		Config: pgmcp.Config{
			Pool:  pgmcp.PoolConfig{MaxConns: 5},
			Query: pgmcp.QueryConfig{DefaultTimeoutSeconds: 30},
		},
		Server: pgmcp.ServerSettings{Port: 8080},
		Connection: pgmcp.ConnectionConfig{
			Host:   "localhost",
			Port:   5432,
			DBName: "testdb",
		},
	}
}

func writeConfigFile(t *testing.T, dir string, config pgmcp.ServerConfig) string {
	t.Helper()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func runDoctor(t *testing.T, path string, lookup func(string) (string, bool)) string {
	t.Helper()
	var buf bytes.Buffer
	if err := doctor(&buf, false, path, lookup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return buf.String()
}

func TestDoctorValidConfig(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, t.TempDir(), validServerConfig())
	output := runDoctor(t, path, noEnv)

	if strings.Contains(output, "✗") {
		t.Fatalf("expected all checks to pass, but found failures in output:\n%s", output)
	}
	for _, want := range []string{
		"Config file readable",
		"Config file is valid JSON",
		"connection.dbname is set (testdb)",
		"server.port is a valid port (8080)",
		"server.health_check_path starts with / (/health)",
		"logging.output is not stdout",
		"All regex patterns compile",
		"Agent Connection Snippets",
		"claude mcp add postgres -- pgmcpserver serve --config " + path,
		`"command": "pgmcpserver"`,
		`"DB_NAME": "testdb"`,
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output:\n%s", want, output)
		}
	}
	if strings.Contains(output, "--transport http") {
		t.Fatalf("expected no HTTP snippet when mcp_http_enabled is off:\n%s", output)
	}
}

func TestDoctorEnvironmentOnly(t *testing.T) {
	t.Parallel()
	output := runDoctor(t, "", envMap(map[string]string{"DB_NAME": "fromenv", "MCP_PORT": "4000"}))

	if strings.Contains(output, "✗") {
		t.Fatalf("expected all checks to pass:\n%s", output)
	}
	if !strings.Contains(output, "using environment and defaults") {
		t.Fatalf("expected no-config-file note:\n%s", output)
	}
	if !strings.Contains(output, "connection.dbname is set (fromenv)") {
		t.Fatalf("expected dbname from environment:\n%s", output)
	}
	if !strings.Contains(output, "server.port is a valid port (4000)") {
		t.Fatalf("expected port from environment:\n%s", output)
	}
}

func TestDoctorMissingConfig(t *testing.T) {
	t.Parallel()
	output := runDoctor(t, "/nonexistent/path/config.json", noEnv)

	if !strings.Contains(output, "✗ Config file readable") {
		t.Fatalf("expected failed 'Config file readable' check:\n%s", output)
	}
	if strings.Contains(output, "Agent Connection Snippets") {
		t.Fatalf("expected no agent snippets when config is missing:\n%s", output)
	}
}

func TestDoctorInvalidJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{invalid json}"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	output := runDoctor(t, path, noEnv)

	if !strings.Contains(output, "✗ Config file is valid JSON") {
		t.Fatalf("expected failed JSON check:\n%s", output)
	}
	if strings.Contains(output, "Agent Connection Snippets") {
		t.Fatalf("expected no agent snippets when JSON is invalid:\n%s", output)
	}
}

func TestDoctorInvalidEnvPort(t *testing.T) {
	t.Parallel()
	path := writeConfigFile(t, t.TempDir(), validServerConfig())
	output := runDoctor(t, path, envMap(map[string]string{"DB_PORT": "abc"}))

	if !strings.Contains(output, "✗ Environment overrides are valid") {
		t.Fatalf("expected failed environment check:\n%s", output)
	}
}

func TestDoctorMissingDBName(t *testing.T) {
	t.Parallel()
	cfg := validServerConfig()
	cfg.Connection.DBName = ""
	output := runDoctor(t, writeConfigFile(t, t.TempDir(), cfg), noEnv)

	if !strings.Contains(output, "✗ connection.dbname is set") {
		t.Fatalf("expected failed dbname check:\n%s", output)
	}
	if !strings.Contains(output, "Fix the issues above") {
		t.Fatalf("expected 'Fix the issues above' message in output:\n%s", output)
	}
}

func TestDoctorStdoutLogging(t *testing.T) {
	t.Parallel()
	cfg := validServerConfig()
	cfg.Logging.Output = "stdout"
	output := runDoctor(t, writeConfigFile(t, t.TempDir(), cfg), noEnv)

	if !strings.Contains(output, "✗ logging.output is not stdout") {
		t.Fatalf("expected failed logging check:\n%s", output)
	}
}

func TestDoctorInvalidRegex(t *testing.T) {
	t.Parallel()
	cfg := validServerConfig()
	cfg.ErrorPrompts = []pgmcp.ErrorPromptRule{{Pattern: "[invalid(regex", Message: "test"}}
	cfg.Query.TimeoutRules = []pgmcp.TimeoutRule{{Pattern: "(", TimeoutSeconds: 1}}
	output := runDoctor(t, writeConfigFile(t, t.TempDir(), cfg), noEnv)

	if !strings.Contains(output, "error_prompts[0] regex compiles") {
		t.Fatalf("expected 'error_prompts[0] regex compiles' check in output:\n%s", output)
	}
	if !strings.Contains(output, "query.timeout_rules[0] regex compiles") {
		t.Fatalf("expected 'query.timeout_rules[0] regex compiles' check in output:\n%s", output)
	}
	if strings.Contains(output, "All regex patterns compile") {
		t.Fatalf("expected no all-compile line:\n%s", output)
	}
}

func TestDoctorHTTPSnippets(t *testing.T) {
	t.Parallel()
	cfg := validServerConfig()
	cfg.Server.Port = 9999
	cfg.Server.MCPHTTPEnabled = true
	output := runDoctor(t, writeConfigFile(t, t.TempDir(), cfg), noEnv)

	expectedURL := "http://localhost:9999/mcp"
	// claude command + JSON snippet
	if count := strings.Count(output, expectedURL); count != 2 {
		t.Fatalf("expected %s to appear 2 times, found %d times:\n%s", expectedURL, count, output)
	}
}
