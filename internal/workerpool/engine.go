package workerpool

import (
	"bufio"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
	_ "modernc.org/sqlite"

	"github.com/rajeee/chatdf/internal/domain"
)

// SQLEngine executes read-only SQL against a set of dataset files and
// extracts a dataset's column schema. It is the pluggable boundary between
// the worker pool's orchestration (safety checks, timeouts, error
// translation) and the actual data-query engine, mirroring how the core
// treats the chat model as an injected capability rather than a fixed
// implementation.
type SQLEngine interface {
	// Execute runs sql (already read-only-checked and LIMIT-injected)
	// against tables, a map of table_name -> local file path.
	Execute(ctx context.Context, sql string, tables map[string]string) (columns []string, rows []map[string]any, err error)
	// Schema opens the dataset file at path and returns its column schema
	// plus row count.
	Schema(ctx context.Context, path string) (columns []domain.ColumnSchema, rowCount int64, err error)
}

// SQLiteEngine is the reference SQLEngine: it loads each dataset file into an
// in-memory SQLite database (modernc.org/sqlite, pure Go, memory-safe and
// cancellable via context — the property §9's Open Question on worker
// isolation requires of any non-OS-process execution strategy) as a table
// named after the caller's table_name, then runs the caller's SQL against it
// with database/sql. Grounded on ashureev-shsh-labs's internal/store/sqlite.go
// WAL-mode dial pattern, scaled down to a throwaway in-memory handle per
// query. CSV, TSV, NDJSON/JSON-array, and Parquet are all accepted, matching
// the three dataset formats the core supports; format is chosen from the
// cached file's extension, via rowSource.
type SQLiteEngine struct{}

// NewSQLiteEngine constructs a SQLiteEngine.
func NewSQLiteEngine() *SQLiteEngine { return &SQLiteEngine{} }

func (e *SQLiteEngine) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging in-memory sqlite: %w", err)
	}
	return db, nil
}

// Execute implements SQLEngine.
func (e *SQLiteEngine) Execute(ctx context.Context, query string, tables map[string]string) ([]string, []map[string]any, error) {
	db, err := e.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	for tableName, path := range tables {
		if err := loadTableIntoDB(ctx, db, tableName, path); err != nil {
			return nil, nil, fmt.Errorf("loading table %q: %w", tableName, err)
		}
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = normalizeSQLValue(values[i])
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}

func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// rowSource abstracts over a dataset file's underlying format so table
// loading and schema computation share one code path for CSV, TSV, NDJSON
// (or JSON-array), and Parquet. Columns is valid once the source has
// produced its first row (CSV and Parquet know it up front from the header
// or the file's embedded schema; JSON discovers it from the first object's
// keys).
type rowSource interface {
	Columns() []string
	// Next returns the next record, or io.EOF once exhausted.
	Next() (map[string]any, error)
	Close() error
}

// detectFormat chooses a dataset format from path's extension, the same
// suffix filecache.suffixForURL assigns the cached file on disk.
func detectFormat(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv.gz"):
		return "csv.gz"
	case strings.HasSuffix(lower, ".csv"):
		return "csv"
	case strings.HasSuffix(lower, ".tsv"):
		return "tsv"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	default:
		return "parquet"
	}
}

func newRowSource(path string) (rowSource, error) {
	switch detectFormat(path) {
	case "csv.gz":
		return newCSVRowSource(path, ',', true)
	case "csv":
		return newCSVRowSource(path, ',', false)
	case "tsv":
		return newCSVRowSource(path, '\t', false)
	case "json":
		return newJSONRowSource(path)
	default:
		return newParquetRowSource(path)
	}
}

// csvRowSource reads delimited text, optionally gzip-compressed. Every value
// is the raw string cell; typing is inferred later by colAcc.
type csvRowSource struct {
	f       *os.File
	gz      *gzip.Reader
	reader  *csv.Reader
	columns []string
}

func newCSVRowSource(path string, delimiter rune, gzipped bool) (*csvRowSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = f
	var gz *gzip.Reader
	if gzipped {
		gz, err = gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		r = gz
	}

	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return &csvRowSource{f: f, gz: gz, reader: reader}, nil
		}
		if gz != nil {
			gz.Close()
		}
		f.Close()
		return nil, err
	}
	return &csvRowSource{f: f, gz: gz, reader: reader, columns: header}, nil
}

func (s *csvRowSource) Columns() []string { return s.columns }

func (s *csvRowSource) Next() (map[string]any, error) {
	record, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	row := make(map[string]any, len(s.columns))
	for i, v := range record {
		if i < len(s.columns) {
			row[s.columns[i]] = v
		}
	}
	return row, nil
}

func (s *csvRowSource) Close() error {
	if s.gz != nil {
		s.gz.Close()
	}
	return s.f.Close()
}

// jsonRowSource reads either a top-level JSON array of objects or
// newline-delimited JSON objects, chosen by peeking the first non-space
// byte. Columns are taken from the first record's keys.
type jsonRowSource struct {
	f         *os.File
	arrayMode bool
	dec       *json.Decoder
	scanner   *bufio.Scanner
	columns   []string
	pending   map[string]any
}

func newJSONRowSource(path string) (*jsonRowSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	first, err := peekFirstNonSpace(br)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, err
	}

	src := &jsonRowSource{f: f}
	if first == '[' {
		src.arrayMode = true
		src.dec = json.NewDecoder(br)
		if _, tokErr := src.dec.Token(); tokErr != nil {
			f.Close()
			return nil, fmt.Errorf("reading json array start: %w", tokErr)
		}
	} else {
		src.scanner = bufio.NewScanner(br)
		src.scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	}

	row, err := src.readRaw()
	if err != nil && err != io.EOF {
		f.Close()
		return nil, err
	}
	if row != nil {
		src.columns = sortedKeys(row)
		src.pending = row
	}
	return src, nil
}

func peekFirstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r' {
			if _, err := br.Discard(1); err != nil {
				return 0, err
			}
			continue
		}
		return b[0], nil
	}
}

func (s *jsonRowSource) Columns() []string { return s.columns }

func (s *jsonRowSource) Next() (map[string]any, error) {
	if s.pending != nil {
		row := s.pending
		s.pending = nil
		return row, nil
	}
	return s.readRaw()
}

func (s *jsonRowSource) readRaw() (map[string]any, error) {
	if s.arrayMode {
		if !s.dec.More() {
			return nil, io.EOF
		}
		var row map[string]any
		if err := s.dec.Decode(&row); err != nil {
			return nil, err
		}
		return row, nil
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, err
		}
		return row, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *jsonRowSource) Close() error { return s.f.Close() }

// parquetRowSource reads a Parquet file column-agnostically via its
// flattened leaf schema, so it works for any dataset's column set without
// generated struct tags.
type parquetRowSource struct {
	f       *os.File
	reader  *parquet.Reader
	columns []string
	rowBuf  parquet.Row
}

func newParquetRowSource(path string) (*parquetRowSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader := parquet.NewReader(f)
	fields := reader.Schema().Fields()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = field.Name()
	}
	return &parquetRowSource{f: f, reader: reader, columns: columns}, nil
}

func (s *parquetRowSource) Columns() []string { return s.columns }

func (s *parquetRowSource) Next() (map[string]any, error) {
	row, err := s.reader.ReadRow(s.rowBuf[:0])
	if err != nil {
		return nil, err
	}
	s.rowBuf = row

	record := make(map[string]any, len(s.columns))
	for i, v := range row {
		if i >= len(s.columns) {
			break
		}
		record[s.columns[i]] = parquetValueToAny(v)
	}
	return record, nil
}

func (s *parquetRowSource) Close() error {
	closeErr := s.reader.Close()
	if err := s.f.Close(); err != nil {
		return err
	}
	return closeErr
}

func parquetValueToAny(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// loadTableIntoDB streams src's rows into a freshly created TEXT-typed
// table, dispatching to the format rowSource's path extension selects.
func loadTableIntoDB(ctx context.Context, db *sql.DB, tableName, path string) error {
	src, err := newRowSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	first, err := src.Next()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	columns := src.Columns()
	if len(columns) == 0 {
		columns = sortedKeys(first)
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	createStmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(tableName), strings.Join(columnDefs(quoted), ", "))
	if _, err := db.ExecContext(ctx, createStmt); err != nil {
		return err
	}

	placeholders := strings.Repeat("?,", len(columns))
	placeholders = strings.TrimSuffix(placeholders, ",")
	insertStmt := fmt.Sprintf(`INSERT INTO %s VALUES (%s)`, quoteIdent(tableName), placeholders)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertStmt)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	insertRow := func(row map[string]any) error {
		args := make([]any, len(columns))
		for i, c := range columns {
			args[i] = stringifyValue(row[c])
		}
		_, err := stmt.ExecContext(ctx, args...)
		return err
	}

	if err := insertRow(first); err != nil {
		tx.Rollback()
		return err
	}
	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := insertRow(row); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// stringifyValue normalizes a rowSource cell to the string every column of
// the all-TEXT staging table holds.
func stringifyValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func columnDefs(quotedNames []string) []string {
	defs := make([]string, len(quotedNames))
	for i, n := range quotedNames {
		defs[i] = n + " TEXT"
	}
	return defs
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// colAcc accumulates the small numeric/string statistics bundle §4.2.2
// requires, across whatever native Go type a rowSource hands it (raw
// strings from CSV/TSV, native JSON types, native Parquet types).
type colAcc struct {
	sawNonNum bool
	min, max  float64
	sawValue  bool
	nullCount int64
	uniques   map[string]struct{}
}

func newColAcc() *colAcc {
	return &colAcc{uniques: make(map[string]struct{})}
}

func (a *colAcc) observe(v any) {
	switch t := v.(type) {
	case nil:
		a.nullCount++
	case string:
		if t == "" {
			a.nullCount++
			return
		}
		a.observeString(t)
	case []byte:
		a.observeString(string(t))
	case float64:
		a.observeNumber(t)
	case float32:
		a.observeNumber(float64(t))
	case int:
		a.observeNumber(float64(t))
	case int32:
		a.observeNumber(float64(t))
	case int64:
		a.observeNumber(float64(t))
	case bool:
		a.sawNonNum = true
		a.uniques[strconv.FormatBool(t)] = struct{}{}
	default:
		a.observeString(fmt.Sprintf("%v", t))
	}
}

func (a *colAcc) observeString(s string) {
	a.uniques[s] = struct{}{}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		a.observeNumber(f)
	} else {
		a.sawNonNum = true
	}
}

func (a *colAcc) observeNumber(f float64) {
	if !a.sawValue || f < a.min {
		a.min = f
	}
	if !a.sawValue || f > a.max {
		a.max = f
	}
	a.sawValue = true
}

// computeSchema streams src once, inferring a numeric/string type per
// column and computing the stats bundle §4.2.2 requires. It is the
// format-agnostic core of SQLiteEngine.Schema.
func computeSchema(ctx context.Context, src rowSource) ([]domain.ColumnSchema, int64, error) {
	first, err := src.Next()
	if err != nil {
		if err == io.EOF {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	columns := src.Columns()
	if len(columns) == 0 {
		columns = sortedKeys(first)
	}

	accs := make([]*colAcc, len(columns))
	for i := range accs {
		accs[i] = newColAcc()
	}

	var rowCount int64
	observeRow := func(row map[string]any) {
		rowCount++
		for i, c := range columns {
			accs[i].observe(row[c])
		}
	}
	observeRow(first)

	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		observeRow(row)
	}

	schemaCols := make([]domain.ColumnSchema, len(columns))
	for i, name := range columns {
		a := accs[i]
		col := domain.ColumnSchema{Name: name}
		isNumeric := a.sawValue && !a.sawNonNum
		if isNumeric {
			col.Type = "number"
			minV, maxV := a.min, a.max
			col.Stats.Min = &minV
			col.Stats.Max = &maxV
		} else {
			col.Type = "string"
			uniqueCount := int64(len(a.uniques))
			col.Stats.UniqueCount = &uniqueCount
		}
		if a.nullCount > 0 {
			nullCount := a.nullCount
			col.Stats.NullCount = &nullCount
		}
		schemaCols[i] = col
	}
	return schemaCols, rowCount, nil
}

// Schema implements SQLEngine.
func (e *SQLiteEngine) Schema(ctx context.Context, path string) ([]domain.ColumnSchema, int64, error) {
	src, err := newRowSource(path)
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()
	return computeSchema(ctx, src)
}
