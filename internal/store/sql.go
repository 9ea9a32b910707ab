package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/slimatic/zakapp-sub004/internal/canon"
	"github.com/slimatic/zakapp-sub004/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps entities in the records table.
type SQLStore struct {
	db     *sql.DB
	q      querier
	driver string
	inTx   bool
}

var _ TxStore = (*SQLStore)(nil)

// Open connects to the database and applies pending migrations.
// driver is DriverSQLite (dsn is a file path) or DriverPostgres.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var dialect goose.Dialect
	switch driver {
	case DriverSQLite:
		dialect = goose.DialectSQLite3
	case DriverPostgres:
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLStore{db: db, q: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db == nil || s.inTx {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InTx runs fn in one transaction. Nested calls join the outer one.
func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()

	return fn(ctx, &SQLStore{db: s.db, q: tx, driver: s.driver, inTx: true})
}

// FindByStableID returns the owner's entity with the given stableId.
func (s *SQLStore) FindByStableID(ctx context.Context, ownerID string, c model.Collection, stableID string) (model.Entity, bool, error) {
	var id, data string
	err := s.q.QueryRowContext(ctx, s.rebind(`
		SELECT id, data FROM records
		WHERE owner_id = ? AND collection_name = ? AND stable_id = ?
	`), ownerID, string(c), stableID).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find %s/%s: %w", c, stableID, err)
	}

	e, err := decodeEntity(c, id, data)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// ListByOwner returns the owner's entities ordered by stableId.
func (s *SQLStore) ListByOwner(ctx context.Context, ownerID string, c model.Collection) ([]model.Entity, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(`
		SELECT id, data FROM records
		WHERE owner_id = ? AND collection_name = ?
		ORDER BY stable_id ASC
	`), ownerID, string(c))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	defer rows.Close()

	out := []model.Entity{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c, err)
		}
		e, err := decodeEntity(c, id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", c, err)
	}
	return out, nil
}

// ApplyMutations applies muts in one transaction, or within the
// surrounding one when called from InTx.
func (s *SQLStore) ApplyMutations(ctx context.Context, c model.Collection, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	return s.InTx(ctx, func(ctx context.Context, tx Store) error {
		ts := tx.(*SQLStore)
		for i, m := range muts {
			if err := ts.apply(ctx, c, m); err != nil {
				return &MutationError{Index: i, StableID: m.StableID, Err: err}
			}
		}
		return nil
	})
}

func (s *SQLStore) apply(ctx context.Context, c model.Collection, m Mutation) error {
	if m.Entity == nil {
		return errors.New("mutation has no entity")
	}
	if m.OwnerID == "" {
		return errors.New("mutation has no owner")
	}
	e := m.Entity.Clone()
	e.Base().StableID = m.StableID
	data, err := encodeEntity(e)
	if err != nil {
		return err
	}
	r := e.Base()

	switch m.Op {
	case OpCreate:
		id, err := localID(r.ID)
		if err != nil {
			return err
		}
		_, err = s.q.ExecContext(ctx, s.rebind(`
			INSERT INTO records
			(id, owner_id, collection_name, stable_id, entity_type, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), id, m.OwnerID, string(c), m.StableID, string(m.Entity.EntityType()), data, r.CreatedAt, r.UpdatedAt)
		return err

	case OpUpdate, OpMerge:
		res, err := s.q.ExecContext(ctx, s.rebind(`
			UPDATE records
			SET entity_type = ?, data = ?, created_at = ?, updated_at = ?
			WHERE owner_id = ? AND collection_name = ? AND stable_id = ?
		`), string(m.Entity.EntityType()), data, r.CreatedAt, r.UpdatedAt, m.OwnerID, string(c), m.StableID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil

	case OpReassign:
		id, err := localID("")
		if err != nil {
			return err
		}
		_, err = s.q.ExecContext(ctx, s.rebind(`
			INSERT INTO records
			(id, owner_id, collection_name, stable_id, entity_type, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (owner_id, collection_name, stable_id) DO UPDATE SET
				entity_type = excluded.entity_type,
				data = excluded.data,
				updated_at = excluded.updated_at
		`), id, m.OwnerID, string(c), m.StableID, string(m.Entity.EntityType()), data, r.CreatedAt, r.UpdatedAt)
		return err

	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
}

func localID(existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

func encodeEntity(e model.Entity) (string, error) {
	b, err := canon.Marshal(model.ToObject(e))
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", e.Base().StableID, err)
	}
	return string(b), nil
}

func decodeEntity(c model.Collection, id, data string) (model.Entity, error) {
	v, err := canon.Parse([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	obj, ok := v.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("decode record %s: not an object", id)
	}
	e, _, err := model.FromObject(c, obj)
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	e.Base().ID = id
	return e, nil
}
