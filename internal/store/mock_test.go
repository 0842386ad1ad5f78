package store

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryExpectation struct {
	expect *regexp.Regexp
	args   []any
	values []any
	rows   [][]any
	err    error
}

type execExpectation struct {
	expect *regexp.Regexp
	args   []any
	tag    string
	err    error
}

// mockPool replays expectations in order for QueryRow, Query, Exec and BeginTx.
type mockPool struct {
	t       *testing.T
	queries []queryExpectation
	execs   []execExpectation
	txs     []*mockTx
	pinged  bool
}

func (m *mockPool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	m.t.Helper()
	if len(m.execs) == 0 {
		m.t.Fatalf("unexpected exec: %s", sql)
	}
	exp := m.execs[0]
	m.execs = m.execs[1:]
	if !exp.expect.MatchString(sql) {
		m.t.Fatalf("exec mismatch: %s does not match %s", sql, exp.expect)
	}
	if err := assertArgs(m.t, exp.args, arguments); err != nil {
		return pgconn.CommandTag{}, err
	}
	tag := exp.tag
	if tag == "" {
		tag = "MOCK"
	}
	return pgconn.NewCommandTag(tag), exp.err
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.t.Helper()
	exp, err := m.next(sql, args)
	if err != nil {
		return mockRow{err: err}
	}
	return mockRow{values: exp.values, err: exp.err}
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.t.Helper()
	exp, err := m.next(sql, args)
	if err != nil {
		return nil, err
	}
	if exp.err != nil {
		return nil, exp.err
	}
	return &mockRows{rows: exp.rows}, nil
}

func (m *mockPool) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if len(m.txs) == 0 {
		return nil, fmt.Errorf("unexpected begin")
	}
	tx := m.txs[0]
	m.txs = m.txs[1:]
	tx.started = true
	return tx, nil
}

func (m *mockPool) Ping(ctx context.Context) error {
	m.pinged = true
	return nil
}

func (m *mockPool) next(sql string, args []any) (queryExpectation, error) {
	if len(m.queries) == 0 {
		m.t.Fatalf("unexpected query: %s", sql)
	}
	exp := m.queries[0]
	m.queries = m.queries[1:]
	if !exp.expect.MatchString(sql) {
		m.t.Fatalf("query mismatch: %s does not match %s", sql, exp.expect)
	}
	if err := assertArgs(m.t, exp.args, args); err != nil {
		return exp, err
	}
	return exp, nil
}

func (m *mockPool) assertDone() {
	m.t.Helper()
	if len(m.queries) != 0 {
		m.t.Fatalf("pending queries: %d", len(m.queries))
	}
	if len(m.execs) != 0 {
		m.t.Fatalf("pending execs: %d", len(m.execs))
	}
	if len(m.txs) != 0 {
		m.t.Fatalf("pending transactions: %d", len(m.txs))
	}
}

// mockRow assigns values positionally into scan destinations.
type mockRow struct {
	values []any
	err    error
}

func (m mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	return assign(m.values, dest)
}

func assign(values []any, dest []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Pointer {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		if v == nil {
			target.Elem().Set(reflect.Zero(target.Elem().Type()))
			continue
		}
		val := reflect.ValueOf(v)
		if !val.Type().AssignableTo(target.Elem().Type()) {
			return fmt.Errorf("scan: cannot assign %T to %s", v, target.Elem().Type())
		}
		target.Elem().Set(val)
	}
	return nil
}

type mockRows struct {
	rows [][]any
	idx  int
	cur  []any
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return nil }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) Values() ([]any, error)                       { return r.cur, nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.cur = r.rows[r.idx]
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return assign(r.cur, dest)
}

type mockTx struct {
	t         *testing.T
	execs     []execExpectation
	started   bool
	committed bool
	rolled    bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("unexpected nested begin")
}
func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return nil
}
func (m *mockTx) Rollback(ctx context.Context) error {
	m.rolled = true
	return nil
}
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, fmt.Errorf("unexpected CopyFrom")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, fmt.Errorf("unexpected Prepare")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if len(m.execs) == 0 {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected tx exec: %s", sql)
	}
	exp := m.execs[0]
	m.execs = m.execs[1:]
	if !exp.expect.MatchString(sql) {
		return pgconn.CommandTag{}, fmt.Errorf("exec mismatch: %s", sql)
	}
	if err := assertArgs(nil, exp.args, arguments); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("MOCK"), exp.err
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected query")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return mockRow{err: fmt.Errorf("unexpected queryrow: %s", sql)}
}
func (m *mockTx) Conn() *pgx.Conn { return nil }

func (m *mockTx) assertDone(t *testing.T) {
	t.Helper()
	if len(m.execs) != 0 {
		t.Fatalf("pending tx execs: %d", len(m.execs))
	}
	if !m.committed && !m.rolled {
		t.Fatal("transaction not finished")
	}
}

func assertArgs(t *testing.T, expected, actual []any) error {
	if len(expected) == 0 {
		return nil
	}
	if len(expected) != len(actual) {
		if t != nil {
			t.Fatalf("argument length mismatch: expected %d got %d", len(expected), len(actual))
		}
		return fmt.Errorf("argument length mismatch")
	}
	for i, exp := range expected {
		if exp == nil {
			continue
		}
		if !reflect.DeepEqual(exp, actual[i]) {
			if t != nil {
				t.Fatalf("argument mismatch at %d: expected %v got %v", i, exp, actual[i])
			}
			return fmt.Errorf("argument mismatch")
		}
	}
	return nil
}
