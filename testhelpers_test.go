package pgmcp_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	pgmcp "github.com/rickchristie/postgres-mcp-server"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

// acquireTestDB locks a scratch database from the local pgflock locker. The
// test is skipped when no locker is running.
func acquireTestDB(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in -short mode")
	}
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Skipf("pgflock locker unavailable on port %d: %v", pgflockLockerPort, err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() pgmcp.Config {
	return pgmcp.Config{
		Pool:  pgmcp.PoolConfig{MaxConns: 5},
		Query: pgmcp.QueryConfig{DefaultTimeoutSeconds: 30},
	}
}

type testInstance struct {
	pool *pgmcp.PoolProvider
	d    *pgmcp.Dispatcher
}

func newTestInstance(t *testing.T, config pgmcp.Config) *testInstance {
	t.Helper()
	return newTestInstanceOn(t, acquireTestDB(t), config)
}

func newTestInstanceOn(t *testing.T, connStr string, config pgmcp.Config) *testInstance {
	t.Helper()
	ctx := context.Background()
	pool, err := pgmcp.NewPool(ctx, connStr, config, testLogger())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	d, err := pgmcp.NewDispatcher(pool, config, testLogger())
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return &testInstance{pool: pool, d: d}
}

// setup runs sql on the pool directly, bypassing the destructive-statement
// guard so tests can create fixtures.
func (in *testInstance) setup(t *testing.T, sql string) {
	t.Helper()
	if _, err := in.pool.Execute(context.Background(), sql); err != nil {
		t.Fatalf("setup %q failed: %v", sql, err)
	}
}

func (in *testInstance) call(name string, args map[string]any) *mcp.CallToolResult {
	return in.d.Dispatch(context.Background(), name, args)
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("expected exactly 1 content block, got %d", len(result.Content))
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func requireOK(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	text := resultText(t, result)
	if result.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	return text
}

func requireError(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	text := resultText(t, result)
	if !result.IsError {
		t.Fatalf("expected error result, got: %s", text)
	}
	return text
}

func decodeQuery(t *testing.T, result *mcp.CallToolResult) pgmcp.QueryDatabaseOutput {
	t.Helper()
	var out pgmcp.QueryDatabaseOutput
	if err := json.Unmarshal([]byte(requireOK(t, result)), &out); err != nil {
		t.Fatalf("failed to decode query output: %v", err)
	}
	return out
}
