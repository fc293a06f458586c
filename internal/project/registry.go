package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/inkwell-ai/inkwell/internal/common"
	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Registry owns the projects root directory and the index database listing
// every project. Per-project store handles are cached get-or-create; no
// state is shared between projects, so independent projects never block
// each other.
type Registry struct {
	root  string
	cfg   Config
	index *sqlx.DB

	mu     sync.RWMutex
	stores map[string]*Store
}

// NewRegistry opens (creating if needed) the projects root and its index
// database.
func NewRegistry(root string, cfg Config) (*Registry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("projects root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve projects root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create projects root: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", filepath.Join(abs, "projects_index.db"), busy)
	index, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open projects index: %w", err)
	}
	index.SetMaxOpenConns(cfg.MaxOpenConns)
	index.SetMaxIdleConns(cfg.MaxIdleConns)
	if _, err := index.Exec(`CREATE TABLE IF NOT EXISTS projects (
                id TEXT PRIMARY KEY,
                name TEXT NOT NULL,
                description TEXT,
                status TEXT NOT NULL DEFAULT 'active',
                created_at DATETIME NOT NULL,
                updated_at DATETIME NOT NULL,
                db_path TEXT NOT NULL,
                bucket_root TEXT NOT NULL
        )`); err != nil {
		index.Close()
		return nil, fmt.Errorf("migrate projects index: %w", err)
	}
	common.Logger().Info("project: registry ready", "root", abs)
	return &Registry{
		root:   abs,
		cfg:    cfg,
		index:  index,
		stores: make(map[string]*Store),
	}, nil
}

// Root returns the projects root directory.
func (r *Registry) Root() string {
	if r == nil {
		return ""
	}
	return r.root
}

// Close releases the index database and every cached project store.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	for id, store := range r.stores {
		store.Close()
		delete(r.stores, id)
	}
	r.mu.Unlock()
	if r.index != nil {
		return r.index.Close()
	}
	return nil
}

// CreateProject provisions an isolated directory, database, and bucket root
// for a new project, optionally creating initial user tables.
func (r *Registry) CreateProject(ctx context.Context, name, description string, tables []TableDefinition) (Project, error) {
	if strings.TrimSpace(name) == "" {
		return Project{}, fault.InvalidInput("project name", name)
	}
	id := uuid.NewString()
	dir := filepath.Join(r.root, id)
	dbPath := filepath.Join(dir, "project.db")
	bucketRoot := filepath.Join(dir, "buckets")
	if err := os.MkdirAll(bucketRoot, 0o755); err != nil {
		return Project{}, fmt.Errorf("create project directory: %w", err)
	}

	cleanup := func() { os.RemoveAll(dir) }

	store, err := OpenStore(dbPath, r.cfg)
	if err != nil {
		cleanup()
		return Project{}, err
	}
	if err := store.SetMetadata(ctx, "project_name", name); err != nil {
		store.Close()
		cleanup()
		return Project{}, err
	}
	if err := store.SetMetadata(ctx, "description", description); err != nil {
		store.Close()
		cleanup()
		return Project{}, err
	}
	tableNames := make([]string, 0, len(tables))
	for _, def := range tables {
		if err := store.CreateTable(ctx, def.Name, def.Columns); err != nil {
			store.Close()
			cleanup()
			return Project{}, err
		}
		tableNames = append(tableNames, def.Name)
	}

	now := time.Now().UTC()
	if _, err := r.index.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, status, created_at, updated_at, db_path, bucket_root)
                 VALUES (?, ?, ?, 'active', ?, ?, ?, ?)`,
		id, name, description, now, now, dbPath, bucketRoot); err != nil {
		store.Close()
		cleanup()
		return Project{}, fmt.Errorf("register project: %w", err)
	}

	r.mu.Lock()
	r.stores[id] = store
	r.mu.Unlock()

	common.Logger().Info("project: created", "id", id, "name", name, "tables", len(tableNames))
	return Project{
		ID:          id,
		Name:        name,
		Description: description,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
		DBPath:      dbPath,
		BucketRoot:  bucketRoot,
		Tables:      tableNames,
	}, nil
}

// GetProject looks up one project, including its current user table names.
func (r *Registry) GetProject(ctx context.Context, id string) (Project, error) {
	var proj Project
	err := r.index.GetContext(ctx, &proj, `SELECT * FROM projects WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fault.NotFound("project", id)
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	store, err := r.Store(ctx, id)
	if err != nil {
		return Project{}, err
	}
	tables, err := store.UserTables(ctx)
	if err != nil {
		return Project{}, err
	}
	proj.Tables = tables
	return proj, nil
}

// ListProjects returns every registered project, most recently updated first.
func (r *Registry) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	err := r.index.SelectContext(ctx, &projects, `SELECT * FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	for i := range projects {
		store, err := r.Store(ctx, projects[i].ID)
		if err != nil {
			return nil, err
		}
		tables, err := store.UserTables(ctx)
		if err != nil {
			return nil, err
		}
		projects[i].Tables = tables
	}
	return projects, nil
}

// DeleteProject removes the project's entire storage subtree: its database,
// every bucket index, and the index row. Irreversible.
func (r *Registry) DeleteProject(ctx context.Context, id string) error {
	var proj Project
	err := r.index.GetContext(ctx, &proj, `SELECT * FROM projects WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fault.NotFound("project", id)
	}
	if err != nil {
		return fmt.Errorf("get project: %w", err)
	}

	r.mu.Lock()
	if store, ok := r.stores[id]; ok {
		store.Close()
		delete(r.stores, id)
	}
	r.mu.Unlock()

	if _, err := r.index.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("unregister project: %w", err)
	}
	dir := filepath.Dir(proj.DBPath)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove project directory: %w", err)
	}
	common.Logger().Info("project: deleted", "id", id)
	return nil
}

// Touch bumps the project's updated_at timestamp.
func (r *Registry) Touch(ctx context.Context, id string) error {
	_, err := r.index.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}

// Store returns the cached per-project store handle, opening it on first
// use. Returns fault.NotFound when the project is not registered.
func (r *Registry) Store(ctx context.Context, id string) (*Store, error) {
	r.mu.RLock()
	store, ok := r.stores[id]
	r.mu.RUnlock()
	if ok {
		return store, nil
	}

	var dbPath string
	err := r.index.GetContext(ctx, &dbPath, `SELECT db_path FROM projects WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve project store: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.stores[id]; ok {
		return store, nil
	}
	store, err = OpenStore(dbPath, r.cfg)
	if err != nil {
		return nil, err
	}
	r.stores[id] = store
	return store, nil
}
