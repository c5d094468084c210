package db

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/quailsql/QuailDB/core"
)

type ResultType int

const (
	QueryResultType ResultType = iota
	CommitResultType
)

type Result interface {
	Type() ResultType
	Display()
}

// QueryResult is returned by SELECT, SHOW and DESCRIBE. Rows holds the typed
// cells; Data holds the same cells rendered as text, NULL included.
type QueryResult struct {
	Columns          []string
	Rows             []core.Row
	Data             [][]string
	Numeric          []bool
	Message          string // shown instead of an empty table
	RecordsRead      int
	ExecutionTimeSec float64
	ExecutionOps     int
}

// CommitResult is returned by statements that change the registry, and by
// USE. Message is the one-line description of what happened.
type CommitResult struct {
	Message          string
	DatabasesCreated int
	DatabasesDeleted int
	TablesCreated    int
	TablesDeleted    int
	TablesAltered    int
	RecordsWritten   int
	RecordsDeleted   int
	ExecutionTimeSec float64
	ExecutionOps     int
}

func (result QueryResult) Type() ResultType {
	return QueryResultType
}

func (result CommitResult) Type() ResultType {
	return CommitResultType
}

func newQueryResult(columns []string, rows []core.Row, numeric []bool) QueryResult {
	data := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, value := range row {
			cells[j] = value.String()
		}
		data[i] = cells
	}
	return QueryResult{
		Columns:     columns,
		Rows:        rows,
		Data:        data,
		Numeric:     numeric,
		RecordsRead: len(rows),
	}
}

// textResult builds a QueryResult of text cells.
func textResult(columns []string, data [][]string) QueryResult {
	rows := make([]core.Row, len(data))
	for i, cells := range data {
		row := make(core.Row, len(cells))
		for j, cell := range cells {
			row[j] = core.TextValue(cell)
		}
		rows[i] = row
	}
	return newQueryResult(columns, rows, nil)
}

// formatDuration formats a duration in human-readable form
func formatDuration(secs float64) string {
	if secs < 0.001 {
		return "<1ms"
	} else if secs < 0.01 {
		return fmt.Sprintf("%dms", int(secs*1000))
	} else if secs < 1 {
		ms := secs * 1000
		if ms < 10 {
			return fmt.Sprintf("%.1fms", ms)
		}
		return fmt.Sprintf("%dms", int(ms))
	} else if secs < 60 {
		if secs < 10 {
			return fmt.Sprintf("%.1fs", secs)
		}
		return fmt.Sprintf("%ds", int(secs))
	} else {
		mins := int(secs / 60)
		remainSecs := int(secs) % 60
		if remainSecs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm%ds", mins, remainSecs)
	}
}

func formatThroughput(secs float64, ops int) string {
	if secs <= 0 || ops <= 0 {
		return ""
	}
	perSec := float64(ops) / secs
	if perSec >= 1000000 {
		return fmt.Sprintf(", %.1fM ops/s", perSec/1000000)
	} else if perSec >= 1000 {
		return fmt.Sprintf(", %.1fK ops/s", perSec/1000)
	}
	return fmt.Sprintf(", %.0f ops/s", perSec)
}

func (result QueryResult) ExecutionTime() string {
	return formatDuration(result.ExecutionTimeSec)
}

func (result CommitResult) ExecutionTime() string {
	return formatDuration(result.ExecutionTimeSec)
}

// WriteTable writes the rows as a bordered table, or Message when there are
// no rows and a message is set.
func (result QueryResult) WriteTable(w io.Writer) {
	if len(result.Data) == 0 && result.Message != "" {
		fmt.Fprintln(w, result.Message)
		return
	}
	table := NewTable(w)
	table.Header(result.Columns)
	for i, numeric := range result.Numeric {
		if numeric {
			table.AlignRight(i)
		}
	}
	table.Bulk(result.Data)
	table.Render()
}

// String renders the result the way Display shows it, without the stats line.
func (result QueryResult) String() string {
	var b strings.Builder
	result.WriteTable(&b)
	return strings.TrimRight(b.String(), "\n")
}

func (result QueryResult) Display() {
	if len(result.Data) > 0 || result.Message != "" {
		result.WriteTable(os.Stdout)
	}
	fmt.Printf("%d rows (%s%s)\n", result.RecordsRead, result.ExecutionTime(), formatThroughput(result.ExecutionTimeSec, result.ExecutionOps))
}

func (result CommitResult) String() string {
	return result.Message
}

func (result CommitResult) Display() {
	var parts []string

	if result.DatabasesCreated > 0 {
		parts = append(parts, fmt.Sprintf("%d database(s) created", result.DatabasesCreated))
	}
	if result.DatabasesDeleted > 0 {
		parts = append(parts, fmt.Sprintf("%d database(s) deleted", result.DatabasesDeleted))
	}
	if result.TablesCreated > 0 {
		parts = append(parts, fmt.Sprintf("%d table(s) created", result.TablesCreated))
	}
	if result.TablesDeleted > 0 {
		parts = append(parts, fmt.Sprintf("%d table(s) deleted", result.TablesDeleted))
	}
	if result.TablesAltered > 0 {
		parts = append(parts, fmt.Sprintf("%d table(s) altered", result.TablesAltered))
	}
	if result.RecordsWritten > 0 {
		parts = append(parts, fmt.Sprintf("%d record(s) written", result.RecordsWritten))
	}
	if result.RecordsDeleted > 0 {
		parts = append(parts, fmt.Sprintf("%d record(s) deleted", result.RecordsDeleted))
	}

	if result.Message != "" {
		fmt.Println(result.Message)
	}

	stats := formatThroughput(result.ExecutionTimeSec, result.ExecutionOps)
	if len(parts) == 0 {
		fmt.Printf("OK (%s%s)\n", result.ExecutionTime(), stats)
	} else {
		fmt.Printf("%s (%s%s)\n", strings.Join(parts, ", "), result.ExecutionTime(), stats)
	}
}

// Render is the line-oriented view of one statement outcome: the success
// text, or "Error: " followed by the reason.
func Render(result Result, err error) string {
	if err != nil {
		return "Error: " + err.Error()
	}
	switch r := result.(type) {
	case QueryResult:
		return r.String()
	case CommitResult:
		return r.String()
	default:
		return ""
	}
}
