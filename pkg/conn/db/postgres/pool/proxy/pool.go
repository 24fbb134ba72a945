// Package proxy wraps Pool to hook SQL events in tests.
//
// It is used to make races reproducible:
// hold a transaction just before its commit, and let another one run meanwhile.
package proxy

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/knitpipe/pkg/conn/db/postgres/pool"
)

type Callback func()

// Event holds callbacks invoked around something.
type Event struct {
	before []Callback
	after  []Callback
}

func (e *Event) Before(cb ...Callback) *Event {
	e.before = append(e.before, cb...)
	return e
}

func (e *Event) After(cb ...Callback) *Event {
	e.after = append(e.after, cb...)
	return e
}

func (e *Event) invoke(f func()) {
	for _, cb := range e.before {
		cb()
	}
	defer func() {
		for _, cb := range e.after {
			cb()
		}
	}()
	f()
}

// Events observed on transactions begun by the proxied Pool.
//
// Connections acquired from the Pool, and queries on the Pool itself, are not observed.
type Events struct {
	Query    *Event
	Commit   *Event
	Rollback *Event
}

type Pool struct {
	Base   kpool.Pool
	Events *Events
}

var _ kpool.Pool = &Pool{}

func Wrap(p kpool.Pool) *Pool {
	return &Pool{
		Base:   p,
		Events: &Events{Query: &Event{}, Commit: &Event{}, Rollback: &Event{}},
	}
}

func (p *Pool) wrap(tx kpool.Tx, err error) (kpool.Tx, error) {
	if tx == nil {
		return nil, err
	}
	return &Tx{Base: tx, events: p.Events}, err
}

func (p *Pool) Begin(ctx context.Context) (kpool.Tx, error) {
	return p.wrap(p.Base.Begin(ctx))
}

func (p *Pool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (kpool.Tx, error) {
	return p.wrap(p.Base.BeginTx(ctx, txOptions))
}

func (p *Pool) Acquire(ctx context.Context) (kpool.Conn, error) {
	return p.Base.Acquire(ctx)
}

func (p *Pool) Ping(ctx context.Context) error {
	return p.Base.Ping(ctx)
}

func (p *Pool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return p.Base.Exec(ctx, sql, arguments...)
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.Base.Query(ctx, sql, args...)
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.Base.QueryRow(ctx, sql, args...)
}

type Tx struct {
	Base   kpool.Tx
	events *Events
}

var _ kpool.Tx = &Tx{}

func (tx *Tx) Begin(ctx context.Context) (kpool.Tx, error) {
	new, err := tx.Base.Begin(ctx)
	if new == nil {
		return nil, err
	}
	return &Tx{Base: new, events: tx.events}, err
}

func (tx *Tx) Commit(ctx context.Context) (err error) {
	tx.events.Commit.invoke(func() { err = tx.Base.Commit(ctx) })
	return
}

func (tx *Tx) Rollback(ctx context.Context) (err error) {
	tx.events.Rollback.invoke(func() { err = tx.Base.Rollback(ctx) })
	return
}

func (tx *Tx) Exec(ctx context.Context, sql string, arguments ...any) (ctag pgconn.CommandTag, err error) {
	tx.events.Query.invoke(func() { ctag, err = tx.Base.Exec(ctx, sql, arguments...) })
	return
}

func (tx *Tx) Query(ctx context.Context, sql string, args ...any) (r pgx.Rows, err error) {
	tx.events.Query.invoke(func() { r, err = tx.Base.Query(ctx, sql, args...) })
	return
}

func (tx *Tx) QueryRow(ctx context.Context, sql string, args ...any) (r pgx.Row) {
	tx.events.Query.invoke(func() { r = tx.Base.QueryRow(ctx, sql, args...) })
	return
}
