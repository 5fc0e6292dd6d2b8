package directory

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const (
	userPathPrefix  = "/home/users/"
	groupPathPrefix = "/home/groups/"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS authorizables (
		id       TEXT PRIMARY KEY,
		path     TEXT NOT NULL UNIQUE,
		is_group INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS properties (
		authorizable_id TEXT NOT NULL REFERENCES authorizables(id),
		name            TEXT NOT NULL,
		value           TEXT NOT NULL,
		PRIMARY KEY (authorizable_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS multi_properties (
		authorizable_id TEXT NOT NULL REFERENCES authorizables(id),
		name            TEXT NOT NULL,
		idx             INTEGER NOT NULL,
		value           TEXT NOT NULL,
		PRIMARY KEY (authorizable_id, name, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		group_id  TEXT NOT NULL REFERENCES authorizables(id),
		member_id TEXT NOT NULL REFERENCES authorizables(id),
		PRIMARY KEY (group_id, member_id)
	)`,
}

// SQLiteStore is the SQLite-backed directory store. One session maps to one
// SQL transaction, which provides the all-or-nothing commit semantics the
// reconciliation engine relies on.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and if needed initializes) a directory store at the
// given SQLite path. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// Single writer: sqlite serializes writes anyway, and a single connection
	// keeps in-memory databases on one schema.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for components sharing the same database
// file, such as the audit trail.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// OpenServiceSession begins a transaction under the given service identity.
func (s *SQLiteStore) OpenServiceSession(serviceUser string) (Session, error) {
	if serviceUser == "" {
		return nil, fmt.Errorf("%w: service user must not be empty", ErrConnection)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %v", ErrConnection, err)
	}
	return &sqliteSession{tx: tx, serviceUser: serviceUser}, nil
}

type sqliteSession struct {
	tx          *sql.Tx
	serviceUser string
	done        bool
}

func (s *sqliteSession) UserID() string {
	return s.serviceUser
}

func (s *sqliteSession) FindByID(id string) (*Authorizable, error) {
	return s.findWhere(`id = ?`, id)
}

func (s *sqliteSession) FindByPath(path string) (*Authorizable, error) {
	return s.findWhere(`path = ?`, path)
}

func (s *sqliteSession) findWhere(cond string, arg string) (*Authorizable, error) {
	a := &Authorizable{}
	err := s.tx.QueryRow(
		`SELECT id, path, is_group FROM authorizables WHERE `+cond, arg,
	).Scan(&a.ID, &a.Path, &a.IsGroup)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup authorizable: %v", ErrStore, err)
	}
	return a, nil
}

func (s *sqliteSession) CreateUser(id string) (*Authorizable, error) {
	return s.create(id, false)
}

func (s *sqliteSession) CreateGroup(id string) (*Authorizable, error) {
	return s.create(id, true)
}

func (s *sqliteSession) create(id string, isGroup bool) (*Authorizable, error) {
	existing, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.IsGroup != isGroup {
			return nil, fmt.Errorf("%w: id %q is held by a differently-typed authorizable (group=%v)",
				ErrConflict, id, existing.IsGroup)
		}
		return nil, fmt.Errorf("%w: authorizable %q already exists", ErrStore, id)
	}

	path := userPathPrefix + id
	if isGroup {
		path = groupPathPrefix + id
	}
	if _, err := s.tx.Exec(
		`INSERT INTO authorizables (id, path, is_group) VALUES (?, ?, ?)`,
		id, path, isGroup,
	); err != nil {
		return nil, fmt.Errorf("%w: create authorizable %q: %v", ErrStore, id, err)
	}
	return &Authorizable{ID: id, Path: path, IsGroup: isGroup}, nil
}

func (s *sqliteSession) GetProperty(a *Authorizable, name string) (string, error) {
	var value string
	err := s.tx.QueryRow(
		`SELECT value FROM properties WHERE authorizable_id = ? AND name = ?`,
		a.ID, name,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read property %s of %q: %v", ErrStore, name, a.ID, err)
	}
	return value, nil
}

func (s *sqliteSession) SetProperty(a *Authorizable, name, value string) error {
	if _, err := s.tx.Exec(
		`INSERT INTO properties (authorizable_id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT (authorizable_id, name) DO UPDATE SET value = excluded.value`,
		a.ID, name, value,
	); err != nil {
		return fmt.Errorf("%w: write property %s of %q: %v", ErrStore, name, a.ID, err)
	}
	return nil
}

func (s *sqliteSession) GetMultiProperty(a *Authorizable, name string) ([]string, error) {
	rows, err := s.tx.Query(
		`SELECT value FROM multi_properties
		 WHERE authorizable_id = ? AND name = ?
		 ORDER BY idx ASC`,
		a.ID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: read property %s of %q: %v", ErrStore, name, a.ID, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%w: read property %s of %q: %v", ErrStore, name, a.ID, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read property %s of %q: %v", ErrStore, name, a.ID, err)
	}
	return values, nil
}

func (s *sqliteSession) SetMultiProperty(a *Authorizable, name string, values []string) error {
	if _, err := s.tx.Exec(
		`DELETE FROM multi_properties WHERE authorizable_id = ? AND name = ?`,
		a.ID, name,
	); err != nil {
		return fmt.Errorf("%w: write property %s of %q: %v", ErrStore, name, a.ID, err)
	}
	for i, v := range values {
		if _, err := s.tx.Exec(
			`INSERT INTO multi_properties (authorizable_id, name, idx, value) VALUES (?, ?, ?, ?)`,
			a.ID, name, i, v,
		); err != nil {
			return fmt.Errorf("%w: write property %s of %q: %v", ErrStore, name, a.ID, err)
		}
	}
	return nil
}

func (s *sqliteSession) FindByMultiProperty(name string) ([]*Authorizable, error) {
	rows, err := s.tx.Query(
		`SELECT DISTINCT a.id, a.path, a.is_group
		 FROM authorizables a
		 JOIN multi_properties p ON p.authorizable_id = a.id
		 WHERE p.name = ?
		 ORDER BY a.id ASC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: find by property %s: %v", ErrStore, name, err)
	}
	defer rows.Close()

	var out []*Authorizable
	for rows.Next() {
		a := &Authorizable{}
		if err := rows.Scan(&a.ID, &a.Path, &a.IsGroup); err != nil {
			return nil, fmt.Errorf("%w: find by property %s: %v", ErrStore, name, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: find by property %s: %v", ErrStore, name, err)
	}
	return out, nil
}

func (s *sqliteSession) AddMember(group, member *Authorizable) (bool, error) {
	if !group.IsGroup {
		return false, fmt.Errorf("%w: %q is not a group", ErrTypeMismatch, group.ID)
	}
	res, err := s.tx.Exec(
		`INSERT OR IGNORE INTO memberships (group_id, member_id) VALUES (?, ?)`,
		group.ID, member.ID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: add member %q to %q: %v", ErrStore, member.ID, group.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: add member %q to %q: %v", ErrStore, member.ID, group.ID, err)
	}
	return n > 0, nil
}

func (s *sqliteSession) RemoveMember(group, member *Authorizable) (bool, error) {
	if !group.IsGroup {
		return false, fmt.Errorf("%w: %q is not a group", ErrTypeMismatch, group.ID)
	}
	res, err := s.tx.Exec(
		`DELETE FROM memberships WHERE group_id = ? AND member_id = ?`,
		group.ID, member.ID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: remove member %q from %q: %v", ErrStore, member.ID, group.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: remove member %q from %q: %v", ErrStore, member.ID, group.ID, err)
	}
	return n > 0, nil
}

func (s *sqliteSession) DeclaredMembers(group *Authorizable) (MemberIterator, error) {
	if !group.IsGroup {
		return nil, fmt.Errorf("%w: %q is not a group", ErrTypeMismatch, group.ID)
	}
	// rowid order preserves insertion order, which tests and callers observe.
	rows, err := s.tx.Query(
		`SELECT a.id, a.path, a.is_group
		 FROM memberships m
		 JOIN authorizables a ON a.id = m.member_id
		 WHERE m.group_id = ?
		 ORDER BY m.rowid ASC`,
		group.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: members of %q: %v", ErrStore, group.ID, err)
	}
	return &rowIterator{rows: rows}, nil
}

func (s *sqliteSession) DeclaredMemberOf(a *Authorizable) (MemberIterator, error) {
	rows, err := s.tx.Query(
		`SELECT g.id, g.path, g.is_group
		 FROM memberships m
		 JOIN authorizables g ON g.id = m.group_id
		 WHERE m.member_id = ?
		 ORDER BY m.rowid ASC`,
		a.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: memberships of %q: %v", ErrStore, a.ID, err)
	}
	return &rowIterator{rows: rows}, nil
}

func (s *sqliteSession) Commit() error {
	if s.done {
		return fmt.Errorf("%w: session already closed", ErrStore)
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStore, err)
	}
	return nil
}

func (s *sqliteSession) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rollback: %v", ErrStore, err)
	}
	return nil
}

// rowIterator adapts *sql.Rows to the one-shot MemberIterator contract.
type rowIterator struct {
	rows   *sql.Rows
	err    error
	closed bool
}

func (it *rowIterator) Next() (*Authorizable, bool) {
	if it.closed || it.err != nil {
		return nil, false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		it.Close()
		return nil, false
	}
	a := &Authorizable{}
	if err := it.rows.Scan(&a.ID, &a.Path, &a.IsGroup); err != nil {
		it.err = fmt.Errorf("%w: scan member row: %v", ErrStore, err)
		it.Close()
		return nil, false
	}
	return a, true
}

func (it *rowIterator) Err() error {
	if it.err != nil && !errors.Is(it.err, ErrStore) {
		return fmt.Errorf("%w: iterate members: %v", ErrStore, it.err)
	}
	return it.err
}

func (it *rowIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.rows.Close()
}
