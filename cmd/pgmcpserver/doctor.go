package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	pgmcp "github.com/rickchristie/postgres-mcp-server"
	"github.com/rickchristie/postgres-mcp-server/internal/patterns"
)

func newDoctorCmd() *cobra.Command {
	var configPath, envFile string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and print agent connection snippets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			useColor := isTTY(os.Stderr.Fd())
			return doctor(os.Stderr, useColor, resolveConfigPath(configPath, os.LookupEnv), os.LookupEnv)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a JSON configuration file (default $PGMCP_CONFIG_PATH)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; a missing file is ignored")
	return cmd
}

func doctor(w io.Writer, useColor bool, configPath string, lookup func(string) (string, bool)) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "%s %s\n\n", pgmcp.DefaultServiceName, version)

	config, ok := doctorValidateConfig(w, useColor, configPath, lookup)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'pgmcpserver doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config, configPath)
	return nil
}

// doctorValidateConfig resolves the configuration the way serve does and
// prints one check line per requirement. It returns the resolved config and
// whether every check passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string, lookup func(string) (string, bool)) (*pgmcp.ServerConfig, bool) {
	allPassed := true
	config := &pgmcp.ServerConfig{}

	if configPath == "" {
		printCheck(w, useColor, true, "No config file; using environment and defaults")
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("Config file readable (%s)", configPath))
			return nil, false
		}
		printCheck(w, useColor, true, fmt.Sprintf("Config file readable (%s)", configPath))

		if err := json.Unmarshal(data, config); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("Config file is valid JSON: %v", err))
			return nil, false
		}
		printCheck(w, useColor, true, "Config file is valid JSON")
	}

	if err := config.ApplyEnv(lookup); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Environment overrides are valid: %v", err))
		return nil, false
	}
	config.ApplyDefaults()

	check := func(pass bool, msg string) {
		printCheck(w, useColor, pass, msg)
		if !pass {
			allPassed = false
		}
	}

	if config.Connection.DBName == "" {
		check(false, "connection.dbname is set (or DB_NAME)")
	} else {
		check(true, fmt.Sprintf("connection.dbname is set (%s)", config.Connection.DBName))
	}
	check(config.Connection.Port > 0 && config.Connection.Port <= 65535,
		fmt.Sprintf("connection.port is a valid port (%d)", config.Connection.Port))
	check(config.Server.Port > 0 && config.Server.Port <= 65535,
		fmt.Sprintf("server.port is a valid port (%d)", config.Server.Port))
	check(strings.HasPrefix(config.Server.HealthCheckPath, "/"),
		fmt.Sprintf("server.health_check_path starts with / (%s)", config.Server.HealthCheckPath))
	if config.Server.MCPHTTPEnabled {
		check(strings.HasPrefix(config.Server.MCPPath, "/") && config.Server.MCPPath != config.Server.HealthCheckPath,
			fmt.Sprintf("server.mcp_path is distinct from the health check (%s)", config.Server.MCPPath))
	}
	check(config.Logging.Output != "stdout", "logging.output is not stdout")

	regexOK := true
	for i, rule := range config.ErrorPrompts {
		regexOK = checkPattern(w, useColor, fmt.Sprintf("error_prompts[%d]", i), rule.Pattern) && regexOK
	}
	for i, rule := range config.Sanitization {
		regexOK = checkPattern(w, useColor, fmt.Sprintf("sanitization[%d]", i), rule.Pattern) && regexOK
	}
	for i, rule := range config.Query.TimeoutRules {
		regexOK = checkPattern(w, useColor, fmt.Sprintf("query.timeout_rules[%d]", i), rule.Pattern) && regexOK
	}
	if regexOK {
		printCheck(w, useColor, true, "All regex patterns compile")
	} else {
		allPassed = false
	}

	return config, allPassed
}

func checkPattern(w io.Writer, useColor bool, field, pattern string) bool {
	if _, err := patterns.Compile([]patterns.Rule[struct{}]{{Pattern: pattern}}); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("%s regex compiles: %v", field, err))
		return false
	}
	return true
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// printAgentSnippets prints MCP client configuration for the stdio transport
// and, when enabled, the streamable HTTP endpoint.
func printAgentSnippets(w io.Writer, useColor bool, config *pgmcp.ServerConfig, configPath string) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	args := `"serve"`
	if configPath != "" {
		args += fmt.Sprintf(`, "--config", %q`, configPath)
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add postgres -- pgmcpserver serve")
	if configPath != "" {
		fmt.Fprintf(w, " --config %s", configPath)
	}
	fmt.Fprintf(w, "\n\n")

	subheading("Claude Desktop / Cursor (mcpServers)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "command": "pgmcpserver",
        "args": [%s],
        "env": {
          "DB_HOST": %q,
          "DB_PORT": "%d",
          "DB_NAME": %q,
          "DB_USER": "<user>",
          "DB_PASSWORD": "<password>"
        }
      }
    }
  }
`, args, config.Connection.Host, config.Connection.Port, config.Connection.DBName)
	fmt.Fprintln(w)

	if !config.Server.MCPHTTPEnabled {
		fmt.Fprintln(w, "  Set server.mcp_http_enabled to also serve MCP over HTTP.")
		return
	}

	url := fmt.Sprintf("http://localhost:%d%s", config.Server.Port, config.Server.MCPPath)
	subheading("Streamable HTTP")
	fmt.Fprintf(w, "    claude mcp add --transport http postgres %s\n\n", url)
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
}
