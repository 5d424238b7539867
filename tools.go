package pgmcp

import "github.com/mark3labs/mcp-go/mcp"

// ListTools returns the descriptors of every supported tool. The input
// schemas are advertised to clients only; Dispatch does its own validation.
// Each call builds fresh values, so callers may modify the result.
func ListTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolQueryDatabase,
			mcp.WithDescription("Execute SQL query on PostgreSQL database. Destructive statements (DROP, DELETE, TRUNCATE, ALTER, CREATE TABLE, INSERT, UPDATE) are rejected. Returns rows, rowCount and fieldNames as JSON."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("SQL query to execute"),
			),
		),
		mcp.NewTool(ToolGetTables,
			mcp.WithDescription("Get list of all tables in the database"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		mcp.NewTool(ToolGetTableSchema,
			mcp.WithDescription("Get schema of a specific table"),
			mcp.WithString("tableName",
				mcp.Required(),
				mcp.Description("Name of the table"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
	}
}

func isRegisteredTool(name string) bool {
	switch name {
	case ToolQueryDatabase, ToolGetTables, ToolGetTableSchema:
		return true
	}
	return false
}
