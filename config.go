package pgmcp

import (
	"fmt"
	"strconv"
	"strings"
)

// Defaults applied by ServerConfig.ApplyDefaults.
const (
	DefaultDBPort               = 5432
	DefaultHTTPPort             = 3001
	DefaultHealthCheckPath      = "/health"
	DefaultMCPPath              = "/mcp"
	DefaultMaxConns             = 10
	DefaultStatementTimeoutSecs = 30
	DefaultServiceName          = "postgres-mcp-server"
	DefaultServiceVersion       = "1.0.0"
)

// Config is the base configuration used by library mode via NewPool and NewDispatcher.
type Config struct {
	Pool         PoolConfig         `json:"pool"`
	Query        QueryConfig        `json:"query"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization"`
	ReadOnly     bool               `json:"read_only"`
	Timezone     string             `json:"timezone"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config
	Connection ConnectionConfig `json:"connection"`
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
}

// ConnectionConfig holds database connection parameters used by CLI mode.
// Password is only ever read from the environment.
type ConnectionConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"dbname"`
	User     string `json:"user"`
	Password string `json:"-"`
	SSLMode  string `json:"sslmode"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns"`
	MinConns          int    `json:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period"`
}

// QueryConfig holds statement timeout settings.
type QueryConfig struct {
	DefaultTimeoutSeconds int           `json:"default_timeout_seconds"`
	TimeoutRules          []TimeoutRule `json:"timeout_rules"`
}

// ServerSettings holds HTTP listener settings for CLI mode.
type ServerSettings struct {
	Port            int    `json:"port"`
	HealthCheckPath string `json:"health_check_path"`
	MetricsDisabled bool   `json:"metrics_disabled"`
	MCPHTTPEnabled  bool   `json:"mcp_http_enabled"`
	MCPPath         string `json:"mcp_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stderr, or file path
}

// TimeoutRule maps a SQL pattern to a specific statement timeout.
type TimeoutRule struct {
	Pattern        string `json:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// ApplyEnv overrides connection, listener and logging settings from the
// environment. lookup is normally os.LookupEnv.
//
// Recognized variables: DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD,
// DB_SSLMODE, MCP_PORT, PGMCP_LOG_LEVEL.
func (c *ServerConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("DB_HOST", &c.Connection.Host)
	str("DB_NAME", &c.Connection.DBName)
	str("DB_USER", &c.Connection.User)
	str("DB_PASSWORD", &c.Connection.Password)
	str("DB_SSLMODE", &c.Connection.SSLMode)
	str("PGMCP_LOG_LEVEL", &c.Logging.Level)
	if err := num("DB_PORT", &c.Connection.Port); err != nil {
		return err
	}
	if err := num("MCP_PORT", &c.Server.Port); err != nil {
		return err
	}
	return nil
}

// ApplyDefaults fills zero values with defaults.
func (c *ServerConfig) ApplyDefaults() {
	if c.Connection.Port == 0 {
		c.Connection.Port = DefaultDBPort
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultHTTPPort
	}
	if c.Server.HealthCheckPath == "" {
		c.Server.HealthCheckPath = DefaultHealthCheckPath
	}
	if c.Server.MCPPath == "" {
		c.Server.MCPPath = DefaultMCPPath
	}
	if c.Pool.MaxConns == 0 {
		c.Pool.MaxConns = DefaultMaxConns
	}
	if c.Query.DefaultTimeoutSeconds == 0 {
		c.Query.DefaultTimeoutSeconds = DefaultStatementTimeoutSecs
	}
}

// ConnString builds a keyword/value connection string from the connection
// settings. Empty settings are omitted so libpq defaults (PGHOST etc.) apply.
func (c ConnectionConfig) ConnString() string {
	parts := []string{}
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteConnValue(value))
		}
	}
	add("host", c.Host)
	if c.Port > 0 {
		add("port", strconv.Itoa(c.Port))
	}
	add("dbname", c.DBName)
	add("user", c.User)
	add("password", c.Password)
	add("sslmode", c.SSLMode)
	return strings.Join(parts, " ")
}

// quoteConnValue single-quotes values containing spaces, quotes or backslashes.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
