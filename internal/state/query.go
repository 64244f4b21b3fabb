package state

import (
	"fmt"
	"strings"
)

// listQuery builds the run list statement for a filter. placeholder returns
// the bind marker for the n-th argument (1-based).
func listQuery(f Filter, placeholder func(n int) string) (string, []any) {
	f = f.Normalize()

	var (
		where []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = %s", column, placeholder(len(args))))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Owner != "" {
		add("owner", f.Owner)
	}
	if f.SessionID != "" {
		add("session_id", f.SessionID)
	}

	var sb strings.Builder
	sb.WriteString("SELECT data FROM runs")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&sb, " ORDER BY queued_at DESC, id ASC LIMIT %s OFFSET %s",
		placeholder(len(args)-1), placeholder(len(args)))
	return sb.String(), args
}

func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
