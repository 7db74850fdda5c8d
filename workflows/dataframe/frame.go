package dataframe

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Column affinities inferred from CSV data.
const (
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
	TypeText    = "TEXT"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column is one typed column of a Frame.
type Column struct {
	Name string
	Type string
}

// Frame is a CSV dataset loaded into a SQLite table.
type Frame struct {
	Table   string
	Columns []Column
	Rows    int
}

// Schema renders the frame as a CREATE TABLE statement, the form the model
// is shown in the agent's system prompt.
func (f *Frame) Schema() string {
	cols := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		cols[i] = fmt.Sprintf("  %s %s", quoteIdent(c.Name), c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n); -- %d rows", f.Table, strings.Join(cols, ",\n"), f.Rows)
}

// OpenMemoryDB opens a private in-memory SQLite database. It is pinned to a
// single connection because every connection to ":memory:" sees its own
// database.
func OpenMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// LoadCSVFile loads the CSV at path into table. An empty table name is
// derived from the file name.
func LoadCSVFile(ctx context.Context, db *sql.DB, table, path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open csv")
	}
	defer f.Close()

	if table == "" {
		table = TableName(path)
	}
	return LoadCSV(ctx, db, table, f)
}

// TableName derives a SQL identifier from a file path: "data/Sales 2024.csv"
// becomes "sales_2024".
func TableName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "t_" + name
	}
	return name
}

// LoadCSV reads a CSV with a header row from r and stores it in a new table.
// Column types are inferred from the data: INTEGER when every non-empty
// value parses as an integer, REAL when every one parses as a number, TEXT
// otherwise. Empty cells are stored as NULL.
func LoadCSV(ctx context.Context, db *sql.DB, table string, r io.Reader) (*Frame, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("dataframe: invalid table name %q", table)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataframe: %s: csv has no header row", table)
	}

	header := columnNames(records[0])
	rows := records[1:]
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("dataframe: %s: row %d has %d fields, want %d", table, i+2, len(row), len(header))
		}
	}

	frame := &Frame{Table: table, Columns: make([]Column, len(header)), Rows: len(rows)}
	for i, name := range header {
		frame.Columns[i] = Column{Name: name, Type: inferType(rows, i)}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin load")
	}
	defer func() { _ = tx.Rollback() }()

	defs := make([]string, len(frame.Columns))
	marks := make([]string, len(frame.Columns))
	for i, c := range frame.Columns {
		defs[i] = quoteIdent(c.Name) + " " + c.Type
		marks[i] = "?"
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))); err != nil {
		return nil, errors.Wrapf(err, "create table %s", table)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(table), strings.Join(marks, ", ")))
	if err != nil {
		return nil, errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	args := make([]interface{}, len(frame.Columns))
	for i, row := range rows {
		for j, c := range frame.Columns {
			args[j] = convertCell(row[j], c.Type)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, errors.Wrapf(err, "insert row %d", i+2)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit load")
	}

	log.Debug().Str("table", table).Int("rows", frame.Rows).Int("columns", len(frame.Columns)).Msg("csv loaded")
	return frame, nil
}

// columnNames cleans header cells: blanks become column_N and repeated names
// get a numeric suffix.
func columnNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(name)
		if n := seen[key]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[key]++
		names[i] = name
	}
	return names
}

func inferType(rows [][]string, col int) string {
	isInt, isReal, nonEmpty := true, true, false
	for _, row := range rows {
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		nonEmpty = true
		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if !isInt {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isReal = false
				break
			}
		}
	}
	switch {
	case !nonEmpty:
		return TypeText
	case isInt:
		return TypeInteger
	case isReal:
		return TypeReal
	default:
		return TypeText
	}
}

func convertCell(raw, typ string) interface{} {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	switch typ {
	case TypeInteger:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case TypeReal:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return raw
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
