// Package dbtest provides an in-memory stand-in for pgx connections in store tests.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Result is what a matched statement returns.
type Result struct {
	Rows     [][]any
	Affected int64
	Err      error
}

// Call records one executed statement.
type Call struct {
	SQL  string
	Args []any
}

type handler struct {
	match string
	fn    func(args []any) Result
}

// Fake routes statements to handlers by SQL substring. Unmatched statements fail.
type Fake struct {
	mu         sync.Mutex
	handlers   []handler
	calls      []Call
	Commits    int
	Rollbacks  int
	BeginError error
}

// New returns an empty Fake.
func New() *Fake { return &Fake{} }

// On registers fn for statements containing match. Later registrations win.
func (f *Fake) On(match string, fn func(args []any) Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append([]handler{{match: match, fn: fn}}, f.handlers...)
	return f
}

// Calls returns the statements executed so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Called counts executed statements containing match.
func (f *Fake) Called(match string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.SQL, match) {
			n++
		}
	}
	return n
}

func (f *Fake) run(sql string, args []any) Result {
	f.mu.Lock()
	f.calls = append(f.calls, Call{SQL: sql, Args: args})
	handlers := f.handlers
	f.mu.Unlock()
	for _, h := range handlers {
		if strings.Contains(sql, h.match) {
			return h.fn(args)
		}
	}
	return Result{Err: fmt.Errorf("dbtest: unexpected statement: %s", sql)}
}

func (f *Fake) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	res := f.run(sql, args)
	if res.Err != nil {
		return pgconn.CommandTag{}, res.Err
	}
	return pgconn.NewCommandTag(fmt.Sprintf("%s %d", verb(sql), res.Affected)), nil
}

func (f *Fake) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	res := f.run(sql, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &rows{data: res.Rows, idx: -1}, nil
}

func (f *Fake) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	res := f.run(sql, args)
	if res.Err != nil {
		return errRow{err: res.Err}
	}
	if len(res.Rows) == 0 {
		return errRow{err: pgx.ErrNoRows}
	}
	return valueRow(res.Rows[0])
}

// Begin starts a fake transaction sharing the same handlers.
func (f *Fake) Begin(context.Context) (pgx.Tx, error) {
	if f.BeginError != nil {
		return nil, f.BeginError
	}
	return &tx{Fake: f}, nil
}

type tx struct {
	*Fake
	done bool
}

func (t *tx) Begin(ctx context.Context) (pgx.Tx, error) { return t.Fake.Begin(ctx) }

func (t *tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.mu.Lock()
	t.Commits++
	t.mu.Unlock()
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.mu.Lock()
	t.Rollbacks++
	t.mu.Unlock()
	return nil
}

func (t *tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("dbtest: CopyFrom not supported")
}

func (t *tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }

func (t *tx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("dbtest: Prepare not supported")
}

func (t *tx) Conn() *pgx.Conn { return nil }

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type valueRow []any

func (r valueRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("dbtest: scan %d columns into %d targets", len(r), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], r[i]); err != nil {
			return fmt.Errorf("dbtest: column %d: %w", i, err)
		}
	}
	return nil
}

type rows struct {
	data   [][]any
	idx    int
	closed bool
}

func (r *rows) Close()                                       { r.closed = true }
func (r *rows) Err() error                                   { return nil }
func (r *rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rows) Conn() *pgx.Conn                              { return nil }

func (r *rows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	if r.idx >= len(r.data) {
		r.closed = true
		return false
	}
	return true
}

func (r *rows) Scan(dest ...any) error { return valueRow(r.data[r.idx]).Scan(dest...) }

func (r *rows) Values() ([]any, error) { return r.data[r.idx], nil }

func (r *rows) RawValues() [][]byte { return nil }

func assign(dst, v any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return errors.New("destination must be a non-nil pointer")
	}
	target := dv.Elem()
	if v == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	sv := reflect.ValueOf(v)
	if target.Kind() == reflect.Pointer && !sv.Type().AssignableTo(target.Type()) {
		p := reflect.New(target.Type().Elem())
		if err := assign(p.Interface(), v); err != nil {
			return err
		}
		target.Set(p)
		return nil
	}
	switch {
	case sv.Type().AssignableTo(target.Type()):
		target.Set(sv)
	case sv.Kind() != reflect.String && target.Kind() == reflect.String:
		return fmt.Errorf("cannot assign %T to %s", v, target.Type())
	case sv.Type().ConvertibleTo(target.Type()):
		target.Set(sv.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", v, target.Type())
	}
	return nil
}

func verb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "EXEC"
	}
	return strings.ToUpper(fields[0])
}
