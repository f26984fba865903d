package store

import (
	"fmt"
	"strings"
	"time"
)

type Dialect interface {
	AutoIncrementPK() string
	JSONType() string
	TimestampType() string
	BoolType() string
	BoolTrue() string
}

type sqliteDialect struct{}

func (d sqliteDialect) AutoIncrementPK() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (d sqliteDialect) JSONType() string        { return "TEXT" }
func (d sqliteDialect) TimestampType() string   { return "TEXT" }
func (d sqliteDialect) BoolType() string        { return "INTEGER" }
func (d sqliteDialect) BoolTrue() string        { return "1" }

type postgresDialect struct{}

func (d postgresDialect) AutoIncrementPK() string { return "BIGSERIAL PRIMARY KEY" }
func (d postgresDialect) JSONType() string        { return "JSONB" }
func (d postgresDialect) TimestampType() string   { return "TIMESTAMPTZ" }
func (d postgresDialect) BoolType() string        { return "BOOLEAN" }
func (d postgresDialect) BoolTrue() string        { return "TRUE" }

// renderSchema expands the dialect tokens in a schema template.
func renderSchema(tmpl string, d Dialect) string {
	return strings.NewReplacer(
		"{{pk}}", d.AutoIncrementPK(),
		"{{json}}", d.JSONType(),
		"{{ts}}", d.TimestampType(),
		"{{bool}}", d.BoolType(),
		"{{true}}", d.BoolTrue(),
	).Replace(tmpl)
}

const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// parseTime converts a scanned timestamp value to time.Time.
// Handles both SQLite (returns string) and Postgres (returns time.Time).
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case []byte:
		return parseTime(string(t))
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{
			sqliteTimeLayout,
			"2006-01-02 15:04:05",
			time.RFC3339Nano,
			"2006-01-02 15:04:05.999999999-07:00",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// jsonText normalises a scanned JSON column (TEXT or JSONB) to bytes.
func jsonText(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	}
	return nil
}
