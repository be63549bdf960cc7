package store

import (
	_ "embed"
	"strings"
)

//go:embed schema_postgres.sql
var postgresDDL string

//go:embed schema_sqlite.sql
var sqliteDDL string

// PostgresDDLStatements returns the postgres CREATE statements, split for
// drivers that execute one statement at a time.
func PostgresDDLStatements() []string { return splitStatements(postgresDDL) }

// SQLiteDDLStatements returns the sqlite CREATE statements.
func SQLiteDDLStatements() []string { return splitStatements(sqliteDDL) }

func splitStatements(ddl string) []string {
	parts := strings.Split(ddl, ";")
	var out []string
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
