package pgmcp

// Tool names exposed through the registry.
const (
	ToolQueryDatabase  = "query_database"
	ToolGetTables      = "get_tables"
	ToolGetTableSchema = "get_table_schema"
)

// QueryOutcome is what the Pool Provider returns for a single statement.
// RowCount is nil when the statement's command tag carries no count.
type QueryOutcome struct {
	Rows       []map[string]interface{}
	RowCount   *int64
	FieldNames []string
}

// QueryDatabaseOutput is the success content of the query_database tool.
type QueryDatabaseOutput struct {
	Rows       []map[string]interface{} `json:"rows"`
	RowCount   *int64                   `json:"rowCount"`
	FieldNames []string                 `json:"fieldNames"`
}

// ColumnInfo is a single row of the get_table_schema tool.
type ColumnInfo struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable"` // "YES" or "NO", as information_schema reports it
}

// toolRequest is the typed form of a tool invocation, produced by parseRequest
// before anything is executed.
type toolRequest interface {
	tool() string
}

type queryDatabaseRequest struct {
	Query string
}

type getTablesRequest struct{}

type getTableSchemaRequest struct {
	TableName string
}

func (queryDatabaseRequest) tool() string  { return ToolQueryDatabase }
func (getTablesRequest) tool() string      { return ToolGetTables }
func (getTableSchemaRequest) tool() string { return ToolGetTableSchema }
