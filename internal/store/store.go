// Package store implements the embedded local mirror of backend state:
// one SQLite database holding every base table, view mirror, the outbox
// and sync metadata. Rows are kept as JSON documents with expression
// indexes over the declared secondary index fields.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
)

// Record is one row of a mirrored table.
//
// Pending marks a provisional record awaiting backend confirmation.
// Deleted marks a locally hard-deleted record that is hidden from reads
// until the remote delete is confirmed.
type Record struct {
	ID      int64
	Pending bool
	Deleted bool
	Data    json.RawMessage
}

// NewRecord marshals v into a Record with the given id.
func NewRecord(id int64, v interface{}) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, apperrors.Wrap(apperrors.ErrInvalid, "marshal record", err)
	}
	return Record{ID: id, Data: data}, nil
}

// Decode unmarshals the record payload into v.
func (r *Record) Decode(v interface{}) error {
	return json.Unmarshal(r.Data, v)
}

// Field returns one JSON field of the record payload, nil if absent.
func (r *Record) Field(name string) interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(r.Data, &m); err != nil {
		return nil
	}
	return m[name]
}

// Store wraps the SQLite database and the watch hub.
type Store struct {
	db  *sql.DB
	hub *watchHub
}

// Open opens (creating if needed) the local database under dataDir and
// applies any pending schema migrations. The database is opened with
// WAL mode and a single writer connection.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "robshop.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "open database", err)
	}

	// SQLite supports a single writer; funnel everything through one
	// connection so transactions never contend.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "enable foreign keys", err)
	}

	s := &Store{db: db, hub: newWatchHub()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database for sibling packages that persist
// their own rows (outbox, sync metadata) in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Txn is a store transaction. Writes made through it are invisible to
// readers and watchers until Commit; watch notifications fire after the
// commit succeeds.
type Txn struct {
	tx    *sql.Tx
	s     *Store
	notes []ChangeNotice
	done  bool
}

// Begin starts a transaction.
func (s *Store) Begin() (*Txn, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "begin transaction", err)
	}
	return &Txn{tx: tx, s: s}, nil
}

// Tx exposes the raw transaction for sibling packages.
func (t *Txn) Tx() *sql.Tx {
	return t.tx
}

// Commit commits the transaction and fires collected watch notifications.
func (t *Txn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "commit transaction", err)
	}
	t.done = true
	t.s.hub.notify(t.notes)
	return nil
}

// Rollback aborts the transaction. Safe to defer after Commit.
func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	return t.tx.Rollback()
}

// Put upserts a record.
func (t *Txn) Put(table string, rec Record) error {
	if !knownTable(table) {
		return apperrors.Newf(apperrors.ErrUnknownTable, "put: unknown table %q", table)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, data, pending, deleted) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data, pending=excluded.pending, deleted=excluded.deleted`, table)
	if _, err := t.tx.Exec(query, rec.ID, string(rec.Data), boolInt(rec.Pending), boolInt(rec.Deleted)); err != nil {
		return wrapWriteErr("put", table, err)
	}
	t.notes = append(t.notes, ChangeNotice{Table: table, Op: OpPut, ID: rec.ID})
	return nil
}

// Delete removes a record by primary key. Deleting an absent row is a
// no-op.
func (t *Txn) Delete(table string, id int64) error {
	if !knownTable(table) {
		return apperrors.Newf(apperrors.ErrUnknownTable, "delete: unknown table %q", table)
	}
	res, err := t.tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return wrapWriteErr("delete", table, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.notes = append(t.notes, ChangeNotice{Table: table, Op: OpDelete, ID: id})
	}
	return nil
}

// BulkPut upserts all records in one statement batch; the enclosing
// transaction makes it all-or-nothing.
func (t *Txn) BulkPut(table string, recs []Record) error {
	if !knownTable(table) {
		return apperrors.Newf(apperrors.ErrUnknownTable, "bulkPut: unknown table %q", table)
	}
	if len(recs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, data, pending, deleted) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data, pending=excluded.pending, deleted=excluded.deleted`, table)
	stmt, err := t.tx.Prepare(query)
	if err != nil {
		return wrapWriteErr("bulkPut", table, err)
	}
	defer stmt.Close()
	for _, rec := range recs {
		if _, err := stmt.Exec(rec.ID, string(rec.Data), boolInt(rec.Pending), boolInt(rec.Deleted)); err != nil {
			return wrapWriteErr("bulkPut", table, err)
		}
	}
	t.notes = append(t.notes, ChangeNotice{Table: table, Op: OpBulk})
	return nil
}

// Clear removes all rows from a table.
func (t *Txn) Clear(table string) error {
	if !knownTable(table) {
		return apperrors.Newf(apperrors.ErrUnknownTable, "clear: unknown table %q", table)
	}
	if _, err := t.tx.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return wrapWriteErr("clear", table, err)
	}
	t.notes = append(t.notes, ChangeNotice{Table: table, Op: OpBulk})
	return nil
}

// Note records an extra notification to fire on commit. Used when a
// caller rewrites a logical entity spanning rows it did not touch
// individually.
func (t *Txn) Note(n ChangeNotice) {
	t.notes = append(t.notes, n)
}

// Non-transactional convenience wrappers. Each is transactional per call.

// Put upserts a record in its own transaction.
func (s *Store) Put(table string, rec Record) error {
	return s.inTxn(func(t *Txn) error { return t.Put(table, rec) })
}

// Delete removes a record in its own transaction.
func (s *Store) Delete(table string, id int64) error {
	return s.inTxn(func(t *Txn) error { return t.Delete(table, id) })
}

// BulkPut upserts records atomically.
func (s *Store) BulkPut(table string, recs []Record) error {
	return s.inTxn(func(t *Txn) error { return t.BulkPut(table, recs) })
}

// Clear removes all rows from a table.
func (s *Store) Clear(table string) error {
	return s.inTxn(func(t *Txn) error { return t.Clear(table) })
}

func (s *Store) inTxn(fn func(*Txn) error) error {
	t, err := s.Begin()
	if err != nil {
		return err
	}
	defer t.Rollback()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

// Get retrieves a record by primary key. Returns ErrNotFound when the
// row does not exist.
func (s *Store) Get(table string, id int64) (*Record, error) {
	if !knownTable(table) {
		return nil, apperrors.Newf(apperrors.ErrUnknownTable, "get: unknown table %q", table)
	}
	row := s.db.QueryRow(fmt.Sprintf("SELECT id, data, pending, deleted FROM %s WHERE id = ?", table), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s: no record with id %d", table, id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get "+table, err)
	}
	return rec, nil
}

// Count returns the number of live (non-deleted) rows in a table.
func (s *Store) Count(table string) (int, error) {
	if !knownTable(table) {
		return 0, apperrors.Newf(apperrors.ErrUnknownTable, "count: unknown table %q", table)
	}
	var n int
	err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE deleted = 0", table)).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "count "+table, err)
	}
	return n, nil
}

// QueryOptions filters a table read.
//
// Index/Value filter on a declared secondary index field (JSON equality).
// Pending, when set, filters on the provisional flag. Deleted rows are
// excluded unless IncludeDeleted is set. Predicate, when set, is applied
// in Go after the SQL filters; Limit and Offset then count only rows
// the predicate kept.
type QueryOptions struct {
	Index          string
	Value          interface{}
	Pending        *bool
	IncludeDeleted bool
	Predicate      func(Record) bool
	Limit          int
	Offset         int
}

// Query reads records matching the options, ordered by primary key.
func (s *Store) Query(table string, opts QueryOptions) ([]Record, error) {
	return runQuery(s.db.Query, table, opts)
}

// Query reads within the transaction. The store holds a single
// connection, so reads that must happen while a transaction is open
// have to go through it.
func (t *Txn) Query(table string, opts QueryOptions) ([]Record, error) {
	return runQuery(t.tx.Query, table, opts)
}

func runQuery(doQuery func(string, ...interface{}) (*sql.Rows, error), table string, opts QueryOptions) ([]Record, error) {
	if !knownTable(table) {
		return nil, apperrors.Newf(apperrors.ErrUnknownTable, "query: unknown table %q", table)
	}

	var where []string
	var args []interface{}

	if !opts.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if opts.Pending != nil {
		where = append(where, "pending = ?")
		args = append(args, boolInt(*opts.Pending))
	}
	if opts.Index != "" {
		if !hasIndex(table, opts.Index) {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "query: %s has no index on %q", table, opts.Index)
		}
		if opts.Index == "id" {
			where = append(where, "id = ?")
		} else {
			where = append(where, fmt.Sprintf("json_extract(data, '$.%s') = ?", opts.Index))
		}
		args = append(args, opts.Value)
	}

	query := fmt.Sprintf("SELECT id, data, pending, deleted FROM %s", table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	// With a predicate the limit must count matching rows, so it moves
	// to the Go side along with the offset.
	if opts.Limit > 0 && opts.Predicate == nil {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	}

	rows, err := doQuery(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query "+table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan "+table, err)
		}
		if opts.Predicate != nil && !opts.Predicate(*rec) {
			continue
		}
		out = append(out, *rec)
		if opts.Predicate != nil && opts.Limit > 0 && len(out) == opts.Offset+opts.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query "+table, err)
	}
	if opts.Predicate != nil && (opts.Offset > 0 || opts.Limit > 0) {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
		if opts.Limit > 0 && len(out) > opts.Limit {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	var rec Record
	var data string
	var pending, deleted int
	if err := sc.Scan(&rec.ID, &data, &pending, &deleted); err != nil {
		return nil, err
	}
	rec.Data = json.RawMessage(data)
	rec.Pending = pending != 0
	rec.Deleted = deleted != 0
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// wrapWriteErr maps low-level write failures, distinguishing a full disk
// so enqueue-path callers can fail loudly with the right code.
func wrapWriteErr(op, table string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "disk") && strings.Contains(msg, "full") {
		return apperrors.Wrap(apperrors.ErrStorageFull, op+" "+table, err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, op+" "+table, err)
}
