package pgmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-mcp-server/internal/guard"
	"github.com/rickchristie/postgres-mcp-server/internal/metrics"
	"github.com/rickchristie/postgres-mcp-server/internal/patterns"
)

const getTablesSQL = `
SELECT table_name::text AS table_name
FROM information_schema.tables
WHERE table_schema = 'public'
`

const getTableSchemaSQL = `
SELECT column_name::text AS column_name,
       data_type::text AS data_type,
       is_nullable::text AS is_nullable
FROM information_schema.columns
WHERE table_name = $1
`

// Executor runs one statement and returns its rows. *PoolProvider is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, sql string, args ...any) (*QueryOutcome, error)
}

// Dispatcher maps tool invocations to statements on an Executor and shapes
// the outcome into a tool result. It holds no per-call state; all methods are
// safe for concurrent use.
type Dispatcher struct {
	exec       Executor
	errPrompts *patterns.Set[string]
	sanitizer  *patterns.Set[string]
	logger     zerolog.Logger
}

// NewDispatcher creates a Dispatcher. Only the ErrorPrompts and Sanitization
// parts of config are used. Returns an error on invalid regex patterns.
func NewDispatcher(exec Executor, config Config, logger zerolog.Logger) (*Dispatcher, error) {
	if exec == nil {
		return nil, fmt.Errorf("pgmcp: executor must not be nil")
	}

	promptRules := make([]patterns.Rule[string], len(config.ErrorPrompts))
	for i, r := range config.ErrorPrompts {
		promptRules[i] = patterns.Rule[string]{Pattern: r.Pattern, Value: r.Message}
	}
	errPrompts, err := patterns.Compile(promptRules)
	if err != nil {
		return nil, fmt.Errorf("invalid error_prompts: %w", err)
	}

	sanitizeRules := make([]patterns.Rule[string], len(config.Sanitization))
	for i, r := range config.Sanitization {
		sanitizeRules[i] = patterns.Rule[string]{Pattern: r.Pattern, Value: r.Replacement}
	}
	sanitizer, err := patterns.Compile(sanitizeRules)
	if err != nil {
		return nil, fmt.Errorf("invalid sanitization: %w", err)
	}

	return &Dispatcher{
		exec:       exec,
		errPrompts: errPrompts,
		sanitizer:  sanitizer,
		logger:     logger,
	}, nil
}

// Dispatch runs the named tool and always returns a result. Failures, including
// panics below the dispatcher, come back as an error result whose single text
// block reads "Error: <message>"; they are never returned as Go errors.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	startTime := time.Now()
	content, err := d.dispatch(ctx, name, args)

	toolLabel := name
	if !isRegisteredTool(name) {
		toolLabel = "unknown"
	}
	metrics.ToolDuration.WithLabelValues(toolLabel).Observe(time.Since(startTime).Seconds())

	if err != nil {
		metrics.ToolCalls.WithLabelValues(toolLabel, errorKind(err)).Inc()
		return d.failure(name, err)
	}
	metrics.ToolCalls.WithLabelValues(toolLabel, "ok").Inc()
	return mcp.NewToolResultText(content)
}

// dispatch is the single failure boundary: it validates, executes and
// serializes, converting a panic into a query execution error.
func (d *Dispatcher) dispatch(ctx context.Context, name string, args map[string]any) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("tool", name).Interface("panic", r).Msg("recovered panic in tool call")
			content, err = "", newToolError(ErrQueryExecution, name, fmt.Errorf("internal error: %v", r))
		}
	}()

	req, err := parseRequest(name, args)
	if err != nil {
		return "", err
	}

	switch r := req.(type) {
	case queryDatabaseRequest:
		return d.queryDatabase(ctx, r)
	case getTablesRequest:
		return d.getTables(ctx)
	case getTableSchemaRequest:
		return d.getTableSchema(ctx, r)
	default:
		return "", newToolError(ErrUnknownTool, name, fmt.Errorf("unknown tool: %s", name))
	}
}

func (d *Dispatcher) queryDatabase(ctx context.Context, req queryDatabaseRequest) (string, error) {
	if label, ok := guard.Match(req.Query); ok {
		metrics.GuardRejections.WithLabelValues(label).Inc()
		d.logger.Warn().
			Str("pattern", label).
			Str("sql", truncateForLog(req.Query, 200)).
			Msg("destructive query rejected")
		return "", newToolError(ErrDestructiveOperation, ToolQueryDatabase, nil)
	}

	outcome, err := d.exec.Execute(ctx, req.Query)
	if err != nil {
		return "", newToolError(ErrQueryExecution, ToolQueryDatabase, err)
	}

	rows := outcome.Rows
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	if d.sanitizer.Len() > 0 {
		for _, row := range rows {
			for k, v := range row {
				row[k] = d.sanitizeValue(v)
			}
		}
	}
	fieldNames := outcome.FieldNames
	if fieldNames == nil {
		fieldNames = []string{}
	}

	return marshalContent(ToolQueryDatabase, QueryDatabaseOutput{
		Rows:       rows,
		RowCount:   outcome.RowCount,
		FieldNames: fieldNames,
	})
}

func (d *Dispatcher) getTables(ctx context.Context) (string, error) {
	outcome, err := d.exec.Execute(ctx, getTablesSQL)
	if err != nil {
		return "", newToolError(ErrQueryExecution, ToolGetTables, err)
	}
	names := make([]string, 0, len(outcome.Rows))
	for _, row := range outcome.Rows {
		names = append(names, stringValue(row["table_name"]))
	}
	return marshalContent(ToolGetTables, names)
}

func (d *Dispatcher) getTableSchema(ctx context.Context, req getTableSchemaRequest) (string, error) {
	outcome, err := d.exec.Execute(ctx, getTableSchemaSQL, req.TableName)
	if err != nil {
		return "", newToolError(ErrQueryExecution, ToolGetTableSchema, err)
	}
	columns := make([]ColumnInfo, 0, len(outcome.Rows))
	for _, row := range outcome.Rows {
		columns = append(columns, ColumnInfo{
			ColumnName: stringValue(row["column_name"]),
			DataType:   stringValue(row["data_type"]),
			IsNullable: stringValue(row["is_nullable"]),
		})
	}
	return marshalContent(ToolGetTableSchema, columns)
}

// failure logs err and renders it as an error result, appending any matching
// error prompt guidance.
func (d *Dispatcher) failure(name string, err error) *mcp.CallToolResult {
	msg := err.Error()
	matched := d.errPrompts.MatchedPatterns(msg)

	logEvent := d.logger.Error().Err(err).Str("tool", name).Str("kind", errorKind(err))
	if len(matched) > 0 {
		logEvent = logEvent.Strs("error_prompts", matched)
	}
	logEvent.Msg("tool call failed")

	if prompts := d.errPrompts.All(msg); len(prompts) > 0 {
		msg = msg + "\n\n" + strings.Join(prompts, "\n")
	}
	return mcp.NewToolResultError("Error: " + msg)
}

// sanitizeValue rewrites strings in place, recursing into JSON objects and arrays.
func (d *Dispatcher) sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return patterns.ReplaceAll(d.sanitizer, val)
	case map[string]interface{}:
		for k, item := range val {
			val[k] = d.sanitizeValue(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = d.sanitizeValue(item)
		}
		return val
	default:
		return v
	}
}

// parseRequest turns the untyped argument bag into a typed request, rejecting
// unknown tools and missing, non-string or blank required arguments.
func parseRequest(name string, args map[string]any) (toolRequest, error) {
	switch name {
	case ToolQueryDatabase:
		query, err := requireString(name, args, "query")
		if err != nil {
			return nil, err
		}
		return queryDatabaseRequest{Query: query}, nil
	case ToolGetTables:
		return getTablesRequest{}, nil
	case ToolGetTableSchema:
		table, err := requireString(name, args, "tableName")
		if err != nil {
			return nil, err
		}
		return getTableSchemaRequest{TableName: table}, nil
	default:
		return nil, newToolError(ErrUnknownTool, name, fmt.Errorf("unknown tool: %s", name))
	}
}

func requireString(tool string, args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", invalidArgument(tool, "%s parameter is required", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalidArgument(tool, "%s parameter must be a string, got %T", key, raw)
	}
	if strings.TrimSpace(s) == "" {
		return "", invalidArgument(tool, "%s parameter must not be empty", key)
	}
	return s, nil
}

func marshalContent(tool string, v interface{}) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", newToolError(ErrQueryExecution, tool, fmt.Errorf("failed to marshal %s result: %w", tool, err))
	}
	return string(b), nil
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
