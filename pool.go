package pgmcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-mcp-server/internal/patterns"
)

// PoolProvider runs single statements on a pgx connection pool. Every call
// checks out its own connection and returns it before Execute returns, on
// success and failure alike. Safe for concurrent use.
type PoolProvider struct {
	pool           *pgxpool.Pool
	timeouts       *patterns.Set[time.Duration]
	defaultTimeout time.Duration
	logger         zerolog.Logger
}

var _ Executor = (*PoolProvider)(nil)

// NewPool creates the connection pool. Connections are opened lazily, so an
// unreachable database is reported by Ping or the first Execute, not here.
// Returns an error for an unparsable connString or invalid config.
func NewPool(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*PoolProvider, error) {
	if config.Pool.MaxConns < 0 {
		return nil, fmt.Errorf("pool.max_conns must be >= 0, got %d", config.Pool.MaxConns)
	}
	if config.Pool.MinConns < 0 || (config.Pool.MaxConns > 0 && config.Pool.MinConns > config.Pool.MaxConns) {
		return nil, fmt.Errorf("pool.min_conns must be between 0 and max_conns, got %d", config.Pool.MinConns)
	}
	if config.Query.DefaultTimeoutSeconds < 0 {
		return nil, fmt.Errorf("query.default_timeout_seconds must be >= 0, got %d", config.Query.DefaultTimeoutSeconds)
	}

	timeoutRules := make([]patterns.Rule[time.Duration], len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		if r.TimeoutSeconds <= 0 {
			return nil, fmt.Errorf("timeout_rule with pattern %q has timeout_seconds <= 0", r.Pattern)
		}
		timeoutRules[i] = patterns.Rule[time.Duration]{Pattern: r.Pattern, Value: time.Duration(r.TimeoutSeconds) * time.Second}
	}
	timeouts, err := patterns.Compile(timeoutRules)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout_rules: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	maxConns := config.Pool.MaxConns
	if maxConns == 0 {
		maxConns = DefaultMaxConns
	}
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MinConns = int32(config.Pool.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"pool.max_conn_lifetime", config.Pool.MaxConnLifetime, &poolConfig.MaxConnLifetime},
		{"pool.max_conn_idle_time", config.Pool.MaxConnIdleTime, &poolConfig.MaxConnIdleTime},
		{"pool.health_check_period", config.Pool.HealthCheckPeriod, &poolConfig.HealthCheckPeriod},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}

	if config.ReadOnly || config.Timezone != "" {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if config.ReadOnly {
				if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
					return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
				}
			}
			if config.Timezone != "" {
				if _, err := conn.Exec(ctx, "SELECT set_config('timezone', $1, false)", config.Timezone); err != nil {
					return fmt.Errorf("failed to set timezone: %w", err)
				}
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	defaultTimeout := time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second
	if defaultTimeout == 0 {
		defaultTimeout = DefaultStatementTimeoutSecs * time.Second
	}

	return &PoolProvider{
		pool:           pool,
		timeouts:       timeouts,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}, nil
}

// Ping acquires a connection and checks the database responds.
func (p *PoolProvider) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool.
func (p *PoolProvider) Close() {
	p.pool.Close()
}

// Execute runs sql as a single statement with args bound as parameters.
// Read-only statements run in a transaction that is rolled back; everything
// else runs in autocommit. Nothing is retried.
func (p *PoolProvider) Execute(ctx context.Context, sql string, args ...any) (*QueryOutcome, error) {
	startTime := time.Now()

	timeout, timeoutRule := p.statementTimeout(sql)
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.pool.Acquire(queryCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	readOnly := isReadOnlyStatement(sql)
	var outcome *QueryOutcome
	if readOnly {
		outcome, err = queryAndRollback(ctx, queryCtx, conn.Conn(), sql, args)
	} else {
		// Autocommit, so statements refused inside a transaction block
		// (VACUUM, CREATE INDEX CONCURRENTLY) still run.
		var rows pgx.Rows
		rows, err = conn.Query(queryCtx, sql, args...)
		if err == nil {
			outcome, err = collectRows(rows)
		}
	}
	if err != nil {
		return nil, err
	}

	logEvent := p.logger.Debug().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(outcome.Rows)).
		Bool("read_only", readOnly)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	logEvent.Msg("statement executed")

	return outcome, nil
}

func queryAndRollback(ctx, queryCtx context.Context, conn *pgx.Conn, sql string, args []any) (*QueryOutcome, error) {
	tx, err := conn.Begin(queryCtx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // parent ctx: queryCtx may already be cancelled

	rows, err := tx.Query(queryCtx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (p *PoolProvider) statementTimeout(sql string) (time.Duration, string) {
	if d, rule, ok := p.timeouts.First(sql); ok {
		return d, rule
	}
	return p.defaultTimeout, ""
}

// isReadOnlyStatement reports whether sql parses to a single statement that
// cannot write: SELECT without INTO, EXPLAIN, SHOW, VALUES. Unparsable text
// is treated as a write so the database, not the parser, has the last word.
func isReadOnlyStatement(sql string) bool {
	result, err := pg_query.Parse(sql)
	if err != nil || len(result.Stmts) != 1 {
		return false
	}
	switch n := result.Stmts[0].Stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return n.SelectStmt.IntoClause == nil && !hasModifyingCTE(n.SelectStmt.WithClause)
	case *pg_query.Node_ExplainStmt, *pg_query.Node_VariableShowStmt:
		return true
	default:
		return false
	}
}

// hasModifyingCTE reports whether a WITH clause contains an INSERT, UPDATE,
// DELETE or MERGE.
func hasModifyingCTE(with *pg_query.WithClause) bool {
	if with == nil {
		return false
	}
	for _, node := range with.Ctes {
		cte := node.GetCommonTableExpr()
		if cte == nil {
			continue
		}
		if _, ok := cte.Ctequery.GetNode().(*pg_query.Node_SelectStmt); !ok {
			return true
		}
	}
	return false
}

// collectRows drains rows into a QueryOutcome. Field names come from the row
// description, so they are known even when no rows are returned.
func collectRows(rows pgx.Rows) (*QueryOutcome, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	fieldNames := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		fieldNames[i] = fd.Name
	}

	resultRows := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldNames))
		for i, name := range fieldNames {
			row[name] = convertValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryOutcome{
		Rows:       resultRows,
		RowCount:   rowCountFromTag(rows.CommandTag()),
		FieldNames: fieldNames,
	}, nil
}

// rowCountFromTag extracts the trailing count of a command tag ("SELECT 3",
// "INSERT 0 1"). Tags without a count ("SHOW", "CREATE INDEX") yield nil.
func rowCountFromTag(tag pgconn.CommandTag) *int64 {
	fields := strings.Fields(tag.String())
	if len(fields) < 2 {
		return nil
	}
	n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// convertValue turns a pgx-decoded value into something encoding/json renders
// the way Postgres prints it.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool, int16, int32, int64:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val))
	case float64:
		return convertFloat(val)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		switch val.InfinityModifier {
		case pgtype.Infinity:
			return "Infinity"
		case pgtype.NegativeInfinity:
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return formatInterval(val)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return formatTime(val.Microseconds)
	case pgtype.Range[interface{}]:
		if !val.Valid {
			return nil
		}
		return formatRange(val)
	case pgtype.Point:
		if !val.Valid {
			return nil
		}
		return formatPoint(val.P)
	case pgtype.Line:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("{%g,%g,%g}", val.A, val.B, val.C)
	case pgtype.Lseg:
		if !val.Valid {
			return nil
		}
		return "[" + formatPoint(val.P[0]) + "," + formatPoint(val.P[1]) + "]"
	case pgtype.Box:
		if !val.Valid {
			return nil
		}
		return formatPoint(val.P[0]) + "," + formatPoint(val.P[1])
	case pgtype.Path:
		if !val.Valid {
			return nil
		}
		if val.Closed {
			return "(" + formatPoints(val.P) + ")"
		}
		return "[" + formatPoints(val.P) + "]"
	case pgtype.Polygon:
		if !val.Valid {
			return nil
		}
		return "(" + formatPoints(val.P) + ")"
	case pgtype.Circle:
		if !val.Valid {
			return nil
		}
		return fmt.Sprintf("<%s,%g>", formatPoint(val.P), val.R)
	case pgtype.Bits:
		if !val.Valid {
			return nil
		}
		return formatBits(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = convertValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = convertValue(item)
		}
		return out
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}

func convertFloat(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

func formatInterval(val pgtype.Interval) string {
	var parts []string
	if years := val.Months / 12; years != 0 {
		parts = append(parts, fmt.Sprintf("%d year(s)", years))
	}
	if months := val.Months % 12; months != 0 {
		parts = append(parts, fmt.Sprintf("%d mon(s)", months))
	}
	if val.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
	}
	if val.Microseconds != 0 {
		parts = append(parts, (time.Duration(val.Microseconds) * time.Microsecond).String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

// formatTime renders microseconds since midnight as HH:MM:SS, with a
// fractional part only when non-zero.
func formatTime(us int64) string {
	hours := us / 3_600_000_000
	us -= hours * 3_600_000_000
	minutes := us / 60_000_000
	us -= minutes * 60_000_000
	seconds := us / 1_000_000
	us -= seconds * 1_000_000
	if us > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func formatRange(val pgtype.Range[interface{}]) string {
	if val.LowerType == pgtype.Empty {
		return "empty"
	}
	var sb strings.Builder
	if val.LowerType == pgtype.Inclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if val.LowerType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", convertValue(val.Lower))
	}
	sb.WriteByte(',')
	if val.UpperType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", convertValue(val.Upper))
	}
	if val.UpperType == pgtype.Inclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String()
}

func formatPoint(p pgtype.Vec2) string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

func formatPoints(ps []pgtype.Vec2) string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = formatPoint(p)
	}
	return strings.Join(out, ",")
}

// formatBits renders bit and varbit values as a string of 0s and 1s.
func formatBits(val pgtype.Bits) string {
	out := make([]byte, val.Len)
	for i := int32(0); i < val.Len; i++ {
		if val.Bytes[i/8]&(1<<uint(7-i%8)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}

// truncateForLog truncates a string for log output on a rune boundary.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...[truncated]"
}
