package dataframe

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dshills/llm-workflows/graph/model"
)

// QueryToolName is the name the model calls the query tool by.
const QueryToolName = "sql_query"

// QueryConfig bounds query execution and the rendered result.
type QueryConfig struct {
	MaxRows        int
	MaxOutputLines int // including the header line
	MaxOutputBytes int
	Timeout        time.Duration
}

func DefaultQueryConfig() QueryConfig {
	return QueryConfig{MaxRows: 200, MaxOutputLines: 50, MaxOutputBytes: 1024, Timeout: 20 * time.Second}
}

var (
	pragmaTableInfoRe = regexp.MustCompile(`(?is)^pragma\s+table_info\s*\(\s*["'\x60]?[A-Za-z_][A-Za-z0-9_]*["'\x60]?\s*\)$`)
	writeKeywordRe    = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|vacuum|reindex|pragma)\b`)
)

// QueryTool runs read-only SQL against the loaded frames.
type QueryTool struct {
	db     *sql.DB
	frames []*Frame
	cfg    QueryConfig
}

// NewQueryTool returns the sql_query tool over db. frames are described to
// the model in the tool description. Zero limits in cfg take their
// DefaultQueryConfig values.
func NewQueryTool(db *sql.DB, cfg QueryConfig, frames ...*Frame) *QueryTool {
	def := DefaultQueryConfig()
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if cfg.MaxOutputLines <= 0 {
		cfg.MaxOutputLines = def.MaxOutputLines
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &QueryTool{db: db, frames: frames, cfg: cfg}
}

func (q *QueryTool) Name() string { return QueryToolName }

func (q *QueryTool) Spec() model.ToolSpec {
	var b strings.Builder
	b.WriteString("Execute a read-only SQL query (SQLite dialect) against the loaded data.")
	if len(q.frames) > 0 {
		b.WriteString("\n\nSchema:\n")
		for _, f := range q.frames {
			b.WriteString("\n")
			b.WriteString(f.Schema())
		}
	}
	return model.ToolSpec{
		Name:        QueryToolName,
		Description: b.String(),
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"sql": map[string]interface{}{
					"type":        "string",
					"description": "A single SELECT, WITH or PRAGMA table_info statement.",
				},
			},
			"required": []string{"sql"},
		},
	}
}

// Call executes input["sql"] and returns the rendered rows under "result".
func (q *QueryTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	raw, _ := input["sql"].(string)
	stmt, err := ValidateQuery(raw)
	if err != nil {
		return nil, err
	}

	out, err := q.run(ctx, stmt)
	if err != nil {
		log.Debug().Err(err).Str("sql", stmt).Msg("sql_query failed")
		return nil, err
	}
	return map[string]interface{}{"result": out}, nil
}

// ValidateQuery accepts a single read-only statement and returns it without
// trailing semicolons. Semicolons inside string literals count as statement
// separators, so such queries are rejected too.
func ValidateQuery(raw string) (string, error) {
	stmt := strings.TrimSpace(raw)
	for strings.HasSuffix(stmt, ";") {
		stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	}
	if stmt == "" {
		return "", fmt.Errorf("empty query")
	}
	if strings.Contains(stmt, ";") {
		return "", fmt.Errorf("only a single statement is allowed")
	}

	fields := strings.Fields(stmt)
	switch strings.ToLower(fields[0]) {
	case "select", "with":
		if kw := writeKeywordRe.FindString(stmt); kw != "" {
			return "", fmt.Errorf("read-only queries only: %s is not allowed", strings.ToUpper(kw))
		}
	case "pragma":
		if !pragmaTableInfoRe.MatchString(stmt) {
			return "", fmt.Errorf("only PRAGMA table_info(<table>) is allowed")
		}
	default:
		return "", fmt.Errorf("read-only queries only: %s is not allowed", strings.ToUpper(fields[0]))
	}
	return stmt, nil
}

func (q *QueryTool) run(ctx context.Context, stmt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Timeout)
	defer cancel()

	// query_only also rejects writes the keyword check lets through, such
	// as WITH ... REPLACE INTO.
	conn, err := q.db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return "", err
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
			log.Debug().Err(err).Msg("sql_query: failed to reset query_only")
		}
	}()

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Debug().Err(err).Msg("sql_query: failed to close rows")
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	out := []string{strings.Join(cols, " | ")}
	total := len(out[0])
	for count := 0; count < q.cfg.MaxRows && rows.Next(); count++ {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = formatValue(v)
		}
		line := strings.Join(parts, " | ")
		out = append(out, line)
		total += len(line) + 1
		if len(out) >= q.cfg.MaxOutputLines || total >= q.cfg.MaxOutputBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	result := strings.Join(out, "\n")
	if len(out) >= q.cfg.MaxOutputLines || len(result) >= q.cfg.MaxOutputBytes {
		kb := (len(result) + 1023) / 1024
		result += fmt.Sprintf("\n... additional data cutoff (%d kB)", kb)
	}
	return result, nil
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
