// Package guard rejects SQL text that matches a fixed denylist of destructive
// statement patterns.
//
// The guard is a best-effort filter for common mistakes, not a security
// boundary. It does not parse SQL: keywords split by comments (DELETE/**/FROM),
// quoted identifiers (UPDATE "users" SET), multi-statement batches and
// function calls with side effects all pass. Run the server under a database
// role with reduced privileges, or with read_only enabled, for real isolation.
package guard

import "github.com/rickchristie/postgres-mcp-server/internal/patterns"

var denylist = patterns.MustCompile([]patterns.Rule[string]{
	{Pattern: `(?i)DROP[\s\v]+(TABLE|DATABASE)`, Value: "DROP TABLE/DATABASE"},
	{Pattern: `(?i)DELETE[\s\v]+FROM`, Value: "DELETE FROM"},
	{Pattern: `(?i)TRUNCATE`, Value: "TRUNCATE"},
	{Pattern: `(?i)ALTER[\s\v]+TABLE`, Value: "ALTER TABLE"},
	{Pattern: `(?i)CREATE[\s\v]+TABLE`, Value: "CREATE TABLE"},
	{Pattern: `(?i)INSERT[\s\v]+INTO`, Value: "INSERT INTO"},
	{Pattern: `(?i)UPDATE[\s\v]+\w+[\s\v]+SET`, Value: "UPDATE SET"},
})

// IsDestructive reports whether sql matches any denylisted pattern, anywhere
// in the text, case-insensitively.
func IsDestructive(sql string) bool {
	_, ok := Match(sql)
	return ok
}

// Match returns the label of the first denylisted pattern sql matches.
func Match(sql string) (label string, ok bool) {
	label, _, ok = denylist.First(sql)
	return label, ok
}
