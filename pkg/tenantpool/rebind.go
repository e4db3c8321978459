package tenantpool

import (
	"strconv"
	"strings"
)

// Rebind rewrites the ? placeholders of query into the bind style of
// driver: $N for postgres drivers, @pN for SQL Server and ? otherwise.
// Question marks inside single-quoted literals are left alone.
func Rebind(driver, query string) string {
	var prefix string
	switch driver {
	case "pgx", "postgres":
		prefix = "$"
	case "sqlserver", "mssql":
		prefix = "@p"
	default:
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteString(prefix)
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Rebind rewrites query for the manager's driver
func (m *Manager) Rebind(query string) string {
	return Rebind(m.cfg.Driver, query)
}
