package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// dialect captures the few places SQLite and Postgres differ.
type dialect struct {
	name     string
	driver   string
	idColumn string
	txOpts   *sql.TxOptions
}

func (d dialect) placeholder(n int) string {
	if d.driver == "pgx" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

var (
	sqliteDialect = dialect{
		name:     "sqlite",
		driver:   "sqlite",
		idColumn: "id INTEGER PRIMARY KEY AUTOINCREMENT",
		// SQLite transactions are already serialisable snapshots.
		txOpts: nil,
	}
	postgresDialect = dialect{
		name:     "postgres",
		driver:   "pgx",
		idColumn: "id BIGSERIAL PRIMARY KEY",
		txOpts:   &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	}
)

// where renders p as a SQL condition with bound arguments. The same renderer
// backs Count and SampleOne.
func (p Predicate) where(d dialect) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v *int) {
		if v == nil {
			return
		}
		args = append(args, *v)
		conds = append(conds, expr+" "+d.placeholder(len(args)))
	}
	add("ply >=", p.PlyMin)
	add("ply <=", p.PlyMax)
	add("rating >=", p.RatingMin)
	add("rating <=", p.RatingMax)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// SQLStore is a corpus held in a relational table.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// OpenSQLite opens (creating if needed) a SQLite corpus at path. ":memory:"
// gives a private in-process database.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = "corpus.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	return newSQLStore(ctx, db, sqliteDialect)
}

// OpenPostgres connects to a Postgres corpus using dsn.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			` + s.d.idColumn + `,
			fen TEXT NOT NULL,
			ply INTEGER NOT NULL CHECK (ply >= 0),
			rating INTEGER NOT NULL CHECK (rating >= 0),
			game_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS positions_ply_rating ON positions (ply, rating)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.name, err)
		}
	}
	return nil
}

// Dialect names the backing database ("sqlite" or "postgres").
func (s *SQLStore) Dialect() string { return s.d.name }

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Count returns the number of rows matching p.
func (s *SQLStore) Count(ctx context.Context, p Predicate) (int64, error) {
	where, args := p.where(s.d)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return n, nil
}

// SampleOne draws a uniform offset among matching rows. The count and the
// offset fetch share one transaction so concurrent appends cannot skew the
// draw.
func (s *SQLStore) SampleOne(ctx context.Context, p Predicate, rnd Rand) (rec Record, ok bool, retErr error) {
	tx, err := s.db.BeginTx(ctx, s.d.txOpts)
	if err != nil {
		return Record{}, false, fmt.Errorf("begin sample: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) && retErr == nil {
			retErr = fmt.Errorf("rollback sample: %w", err)
		}
	}()

	where, args := p.where(s.d)
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`+where, args...).Scan(&n); err != nil {
		return Record{}, false, fmt.Errorf("count positions: %w", err)
	}
	if n == 0 {
		return Record{}, false, nil
	}
	k := rnd.Int64N(n)

	q := `SELECT fen, ply, rating, game_id FROM positions` + where +
		` ORDER BY id LIMIT 1 OFFSET ` + s.d.placeholder(len(args)+1)
	row := tx.QueryRowContext(ctx, q, append(args, k)...)
	if err := row.Scan(&rec.FEN, &rec.Ply, &rec.Rating, &rec.GameID); err != nil {
		return Record{}, false, fmt.Errorf("fetch sample: %w", err)
	}
	return rec, true, nil
}

// Append inserts recs in a single transaction.
func (s *SQLStore) Append(ctx context.Context, recs []Record) (retErr error) {
	if len(recs) == 0 {
		return nil
	}
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO positions (fen, ply, rating, game_id) VALUES (%s, %s, %s, %s)`,
		s.d.placeholder(1), s.d.placeholder(2), s.d.placeholder(3), s.d.placeholder(4)))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.FEN, r.Ply, r.Rating, r.GameID); err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Scan visits every row in id order.
func (s *SQLStore) Scan(ctx context.Context, fn func(Record) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT fen, ply, rating, game_id FROM positions ORDER BY id`)
	if err != nil {
		return fmt.Errorf("select positions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.FEN, &r.Ply, &r.Rating, &r.GameID); err != nil {
			return fmt.Errorf("scan position: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
