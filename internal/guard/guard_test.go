package guard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsDestructive_Denylisted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		sql   string
		label string
	}{
		{"drop table", "DROP TABLE users", "DROP TABLE/DATABASE"},
		{"drop database", "drop database prod", "DROP TABLE/DATABASE"},
		{"drop table extra whitespace", "DROP \n\t TABLE users", "DROP TABLE/DATABASE"},
		{"drop table vertical tab", "DROP\vTABLE users", "DROP TABLE/DATABASE"},
		{"update form feed and vertical tab", "UPDATE\fusers\vSET name = 'a'", "UPDATE SET"},
		{"delete from", "DELETE FROM users WHERE id = 1", "DELETE FROM"},
		{"delete lowercase", "delete from users", "DELETE FROM"},
		{"truncate", "TRUNCATE users", "TRUNCATE"},
		{"truncate mixed case", "TrUnCaTe TABLE users", "TRUNCATE"},
		{"alter table", "ALTER TABLE users ADD COLUMN x int", "ALTER TABLE"},
		{"create table", "create table t (id int)", "CREATE TABLE"},
		{"insert into", "INSERT INTO users (name) VALUES ('a')", "INSERT INTO"},
		{"update set", "UPDATE users SET name = 'a'", "UPDATE SET"},
		{"update lowercase", "update users set name = 'a'", "UPDATE SET"},
		{"not anchored", "SELECT 1; DROP TABLE users", "DROP TABLE/DATABASE"},
		{"inside cte", "WITH d AS (DELETE FROM users RETURNING *) SELECT * FROM d", "DELETE FROM"},
		{"leading comment", "/*comment*/DELETE FROM users", "DELETE FROM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.True(t, IsDestructive(tt.sql))
			label, ok := Match(tt.sql)
			require.True(t, ok)
			require.Equal(t, tt.label, label)
		})
	}
}

func TestIsDestructive_Allowed(t *testing.T) {
	t.Parallel()
	for _, sql := range []string{
		"SELECT 1 AS x",
		"SELECT * FROM users WHERE deleted_at IS NULL",
		"EXPLAIN SELECT * FROM orders",
		"SHOW server_version",
		"SELECT 'drop' AS word",
		"CREATE INDEX idx ON users (name)",
		"",
	} {
		require.False(t, IsDestructive(sql), "expected %q to pass the guard", sql)
		_, ok := Match(sql)
		require.False(t, ok)
	}
}

// The denylist is not a parser; these known gaps and false positives are
// pinned so a change in behavior is deliberate.
func TestIsDestructive_KnownLimitations(t *testing.T) {
	t.Parallel()

	// Evasions that are not caught.
	require.False(t, IsDestructive("DELETE/**/FROM users"))
	require.False(t, IsDestructive(`UPDATE "users" SET name = 'a'`))
	require.False(t, IsDestructive("UPDATE public.users SET name = 'a'"))
	require.False(t, IsDestructive("DROP VIEW v"))
	require.False(t, IsDestructive("SELECT pg_terminate_backend(123)"))

	// Substring false positive: TRUNCATE matches inside identifiers.
	require.True(t, IsDestructive("SELECT truncated_at FROM jobs"))
}
