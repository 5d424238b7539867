// Package pgmcp exposes a PostgreSQL database to AI agents through the Model
// Context Protocol (MCP).
//
// Three tools are registered: query_database runs a SQL statement and returns
// its rows, row count and field names; get_tables lists the tables of the
// public schema; get_table_schema lists the columns of one table. Every call
// yields exactly one tool result. Failures are rendered as an error result
// with the text "Error: <message>" and never escape as Go errors.
//
// query_database rejects text matching a small denylist of destructive
// statements (DROP TABLE, DELETE FROM, TRUNCATE, ALTER TABLE, CREATE TABLE,
// INSERT INTO, UPDATE ... SET) before anything reaches the database. The
// denylist is a guard against common mistakes, not an access control: pair it
// with a restricted database role or Config.ReadOnly.
//
// # Library Usage
//
//	pool, err := pgmcp.NewPool(ctx, connString, pgmcp.Config{ReadOnly: true}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//
//	d, err := pgmcp.NewDispatcher(pool, pgmcp.Config{}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Use directly
//	result := d.Dispatch(ctx, "query_database", map[string]any{"query": "SELECT 1 AS x"})
//
//	// Or register as MCP tools
//	pgmcp.RegisterMCPTools(mcpServer, d)
//
// Any type with an Execute method can stand in for the pool, which is how the
// dispatcher is tested without a database.
package pgmcp
