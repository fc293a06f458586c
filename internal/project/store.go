package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Store wraps one project's pooled sqlite database. User tables, the fixed
// output tables, and the edit log all live here; the file sits inside the
// project's directory so deleting the project removes everything.
type Store struct {
	db   *sqlx.DB
	path string

	// appendMu serializes every ledger append on this database, across both
	// output kinds. The kinds use separate tables, but their read-max-then-
	// insert transactions share one sqlite file: a deferred transaction that
	// reads and then writes cannot upgrade its snapshot while another write
	// transaction is in flight, and sqlite reports that as an immediate
	// SQLITE_BUSY that busy_timeout does not cover.
	appendMu sync.Mutex
}

// OpenStore opens (creating if needed) the project database at path and
// migrates the fixed tables.
func OpenStore(path string, cfg Config) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("project database path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open project database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingTimeout := cfg.BusyTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping project database: %w", err)
	}

	store := &Store{
		db:   db,
		path: abs,
	}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

var schemaStatements = []string{
	`PRAGMA journal_mode = WAL;`,
	`CREATE TABLE IF NOT EXISTS project_metadata (
                key TEXT PRIMARY KEY,
                value TEXT,
                updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS brainstorm_outputs (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                version INTEGER NOT NULL UNIQUE,
                source_table TEXT NOT NULL,
                source_rows TEXT NOT NULL,
                buckets_used TEXT NOT NULL,
                tone TEXT,
                special_instruction TEXT,
                instructions TEXT,
                prompt TEXT,
                content TEXT NOT NULL,
                created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS write_outputs (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                version INTEGER NOT NULL UNIQUE,
                brainstorm_version INTEGER,
                source_table TEXT NOT NULL,
                source_rows TEXT NOT NULL,
                tone TEXT,
                instructions TEXT,
                prompt TEXT,
                content TEXT NOT NULL,
                word_count INTEGER,
                created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS edit_history (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                write_version INTEGER NOT NULL,
                instructions TEXT,
                content TEXT NOT NULL,
                created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                FOREIGN KEY(write_version) REFERENCES write_outputs(version)
        );`,
}

func (s *Store) migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("project store not initialised")
	}
	for i, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// SetMetadata upserts a key in the project metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_metadata (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
                 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// Metadata reads a key from the project metadata table, or "" when absent.
func (s *Store) Metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM project_metadata WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// CreateTable provisions a user table with the given text columns plus the
// implicit autoincrement id.
func (s *Store) CreateTable(ctx context.Context, name string, columns []string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	if len(columns) == 0 {
		return fault.InvalidInput("columns", name)
	}
	for _, col := range columns {
		if err := ValidateIdentifier("column", col); err != nil {
			return err
		}
		if strings.EqualFold(col, "id") {
			return fault.InvalidInput("column", col)
		}
	}
	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fault.AlreadyExists("table", name)
	}
	defs := make([]string, 0, len(columns)+1)
	defs = append(defs, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, col := range columns {
		defs = append(defs, col+" TEXT")
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	return nil
}

// UserTables lists user-defined table names, excluding the fixed tables.
func (s *Store) UserTables(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master
                 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
                 AND name NOT IN ('project_metadata', 'brainstorm_outputs', 'write_outputs', 'edit_history')
                 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// TableSchema introspects an existing user table. The implicit id column is
// excluded from the returned column list.
func (s *Store) TableSchema(ctx context.Context, table string) (TableSchema, error) {
	if err := validateTableName(table); err != nil {
		return TableSchema{}, err
	}
	columns, err := s.introspectColumns(ctx, table)
	if err != nil {
		return TableSchema{}, err
	}
	var count int
	if err := s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
		return TableSchema{}, fmt.Errorf("count rows in %s: %w", table, err)
	}
	return TableSchema{Name: table, Columns: columns, RowCount: count}, nil
}

func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return count > 0, nil
}

func (s *Store) introspectColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	defer rows.Close()
	var columns []string
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    sql.NullString
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}
		if name == "id" {
			continue
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if columns == nil {
		return nil, fault.NotFound("table", table)
	}
	return columns, nil
}

// ListRows returns up to limit rows in id order. limit <= 0 means all rows.
func (s *Store) ListRows(ctx context.Context, table string, limit int) ([]Row, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	if _, err := s.introspectColumns(ctx, table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY id", table)
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rows in %s: %w", table, err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		record := make(map[string]interface{})
		if err := rows.MapScan(record); err != nil {
			return nil, fmt.Errorf("scan row in %s: %w", table, err)
		}
		out = append(out, rowFromRecord(record))
	}
	return out, rows.Err()
}

// GetRow fetches one row by id, or fault.NotFound.
func (s *Store) GetRow(ctx context.Context, table string, id int64) (Row, error) {
	if err := validateTableName(table); err != nil {
		return Row{}, err
	}
	if _, err := s.introspectColumns(ctx, table); err != nil {
		return Row{}, err
	}
	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table), id)
	if err != nil {
		return Row{}, fmt.Errorf("get row %d in %s: %w", id, table, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Row{}, err
		}
		return Row{}, fault.NotFound("row", fmt.Sprintf("%s/%d", table, id))
	}
	record := make(map[string]interface{})
	if err := rows.MapScan(record); err != nil {
		return Row{}, fmt.Errorf("scan row %d in %s: %w", id, table, err)
	}
	return rowFromRecord(record), nil
}

// InsertRow validates values against the table schema and inserts a new row,
// returning the assigned id.
func (s *Store) InsertRow(ctx context.Context, table string, values map[string]string) (int64, error) {
	columns, err := s.validateValues(ctx, table, values)
	if err != nil {
		return 0, err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	args := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		args = append(args, values[col])
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id for %s: %w", table, err)
	}
	return id, nil
}

// UpdateRow overwrites the provided columns on an existing row.
func (s *Store) UpdateRow(ctx context.Context, table string, id int64, values map[string]string) error {
	columns, err := s.validateValues(ctx, table, values)
	if err != nil {
		return err
	}
	sets := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns)+1)
	for _, col := range columns {
		sets = append(sets, col+" = ?")
		args = append(args, values[col])
	}
	args = append(args, id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", table, err)
	}
	if affected == 0 {
		return fault.NotFound("row", fmt.Sprintf("%s/%d", table, id))
	}
	return nil
}

// DeleteRow removes a row by id.
func (s *Store) DeleteRow(ctx context.Context, table string, id int64) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	if _, err := s.introspectColumns(ctx, table); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", table, err)
	}
	if affected == 0 {
		return fault.NotFound("row", fmt.Sprintf("%s/%d", table, id))
	}
	return nil
}

// validateValues checks every provided column against the table schema and
// returns the column names in deterministic order.
func (s *Store) validateValues(ctx context.Context, table string, values map[string]string) ([]string, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fault.InvalidInput("values", table)
	}
	schema, err := s.introspectColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(schema))
	for _, col := range schema {
		known[col] = struct{}{}
	}
	columns := make([]string, 0, len(values))
	for col := range values {
		if _, ok := known[col]; !ok {
			return nil, fault.InvalidInput("column", col)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns, nil
}

func rowFromRecord(record map[string]interface{}) Row {
	row := Row{Values: make(map[string]string, len(record))}
	for key, value := range record {
		if key == "id" {
			switch v := value.(type) {
			case int64:
				row.ID = v
			case []byte:
				fmt.Sscanf(string(v), "%d", &row.ID)
			}
			continue
		}
		row.Values[key] = valueToString(value)
	}
	return row
}

func valueToString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
