// Package dispatch serializes RPC requests against a set of named
// databases. A single loop goroutine owns the connection table and handles
// one request at a time; callers block on a per-request response channel.
//
// Connection-level RPCs: open, close, debug. Data-level RPCs (has, get,
// put) carry JSON payloads and operate on the raw key/value space of the
// named database.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"dagstore/internal/kv"
	"dagstore/internal/logging"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Opener creates (or opens) the store behind a database name.
type Opener func(ctx context.Context, name string) (kv.Store, error)

type request struct {
	id   string
	db   string
	rpc  string
	data string
	resp chan response
}

type response struct {
	result string
	err    error
}

// Dispatcher owns the open-database table and the request loop.
type Dispatcher struct {
	opener Opener
	logger *slog.Logger
	reqs   chan request
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

// New starts a dispatcher with its loop goroutine. logger may be nil.
func New(opener Opener, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		opener: opener,
		logger: logging.Default(logger).With("component", "dispatch"),
		reqs:   make(chan request),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Dispatch submits one RPC and waits for its response.
func (d *Dispatcher) Dispatch(ctx context.Context, db, rpc, data string) (string, error) {
	req := request{
		id:   uuid.NewString(),
		db:   db,
		rpc:  rpc,
		data: data,
		resp: make(chan response, 1),
	}
	select {
	case d.reqs <- req:
	case <-d.quit:
		return "", ErrDispatcherClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.result, r.err
	case <-d.done:
		// The loop may have answered just before shutting down.
		select {
		case r := <-req.resp:
			return r.result, r.err
		default:
			return "", ErrDispatcherClosed
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops the loop and closes every open database.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.quit) })
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	conns := make(map[string]kv.Store)
	defer func() {
		for name, s := range conns {
			if err := s.Close(); err != nil {
				d.logger.Warn("closing database", "db", name, "error", err)
			}
		}
	}()

	for {
		select {
		case <-d.quit:
			return
		case req := <-d.reqs:
			d.logger.Debug("dispatch", "id", req.id, "db", req.db, "rpc", req.rpc)
			req.resp <- d.handle(conns, req)
		}
	}
}

func (d *Dispatcher) handle(conns map[string]kv.Store, req request) response {
	ctx := context.Background()

	switch req.rpc {
	case "open":
		return d.open(ctx, conns, req)
	case "close":
		if s, ok := conns[req.db]; ok {
			delete(conns, req.db)
			if err := s.Close(); err != nil {
				return response{err: err}
			}
		}
		return response{}
	case "debug":
		return d.debug(conns, req)
	}

	db, ok := conns[req.db]
	if !ok {
		return response{err: fmt.Errorf("%q not open", req.db)}
	}

	switch req.rpc {
	case "has":
		return d.has(ctx, db, req.data)
	case "get":
		return d.get(ctx, db, req.data)
	case "put":
		return d.put(ctx, db, req.data)
	default:
		return response{err: errors.New("unsupported rpc name")}
	}
}

func (d *Dispatcher) open(ctx context.Context, conns map[string]kv.Store, req request) response {
	if req.db == "" {
		return response{err: errors.New("db name must be non-empty")}
	}
	if _, ok := conns[req.db]; ok {
		return response{}
	}
	s, err := d.opener(ctx, req.db)
	if err != nil {
		d.logger.Error("open failed", "db", req.db, "error", err)
		return response{err: fmt.Errorf("failed to open: %w", err)}
	}
	conns[req.db] = s
	return response{}
}

func (d *Dispatcher) debug(conns map[string]kv.Store, req request) response {
	switch req.data {
	case "open_dbs":
		names := make([]string, 0, len(conns))
		for name := range conns {
			names = append(names, name)
		}
		slices.Sort(names)
		out, err := json.Marshal(names)
		if err != nil {
			return response{err: err}
		}
		return response{result: string(out)}
	default:
		return response{err: errors.New("debug command not defined")}
	}
}

type getRequest struct {
	Key string `json:"key"`
}

type getResponse struct {
	Value *string `json:"value"`
	Has   bool    `json:"has"`
}

type putRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (d *Dispatcher) has(ctx context.Context, db kv.Store, data string) response {
	var req getRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return response{err: errors.New("failed to parse request")}
	}
	r, err := db.Read(ctx)
	if err != nil {
		return response{err: err}
	}
	defer r.Release()
	ok, err := r.Has(ctx, req.Key)
	if err != nil {
		return response{err: err}
	}
	return marshal(getResponse{Has: ok})
}

func (d *Dispatcher) get(ctx context.Context, db kv.Store, data string) response {
	var req getRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return response{err: errors.New("failed to parse request")}
	}
	r, err := db.Read(ctx)
	if err != nil {
		return response{err: err}
	}
	defer r.Release()
	v, ok, err := r.Get(ctx, req.Key)
	if err != nil {
		return response{err: err}
	}
	if !ok {
		return marshal(getResponse{Has: false})
	}
	s := string(v)
	return marshal(getResponse{Value: &s, Has: true})
}

func (d *Dispatcher) put(ctx context.Context, db kv.Store, data string) response {
	var req putRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return response{err: errors.New("failed to parse request")}
	}
	w, err := db.Write(ctx)
	if err != nil {
		return response{err: err}
	}
	if err := w.Put(ctx, req.Key, []byte(req.Value)); err != nil {
		_ = w.Rollback(ctx)
		return response{err: err}
	}
	if err := w.Commit(ctx); err != nil {
		return response{err: err}
	}
	return response{}
}

func marshal(v any) response {
	out, err := json.Marshal(v)
	if err != nil {
		return response{err: err}
	}
	return response{result: string(out)}
}
