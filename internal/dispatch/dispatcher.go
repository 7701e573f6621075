// Package dispatch drains the outbox to the backend. Entries are
// processed strictly sequentially within a drain cycle so two intents
// touching the same row never race, and a failing entry never blocks
// the entries behind it.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/backend"
	"github.com/dadinugroho/robshop-core/internal/logging"
	"github.com/dadinugroho/robshop-core/internal/outbox"
)

// Reconciler swaps a provisional record for its confirmed identity.
// Implemented by the sync engine; injected here so the dispatcher can
// reconcile insert results without waiting for the change feed.
type Reconciler interface {
	Reconcile(table string, confirmed json.RawMessage, placeholderID int64) error
}

// Config configures the dispatcher.
type Config struct {
	BatchSize int           // entries fetched per drain cycle
	RetryBase time.Duration // first retry delay for failed entries
	RetryCap  time.Duration // backoff ceiling
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize: 25,
		RetryBase: 30 * time.Second,
		RetryCap:  time.Hour,
	}
}

// Dispatcher executes outbox entries against the backend.
type Dispatcher struct {
	q      *outbox.Queue
	client backend.Client
	rec    Reconciler
	cfg    Config

	mu sync.Mutex // single-flight: one drain at a time
}

// New creates a Dispatcher.
func New(q *outbox.Queue, client backend.Client, rec Reconciler, cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = DefaultConfig().RetryCap
	}
	return &Dispatcher{q: q, client: client, rec: rec, cfg: cfg}
}

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Completed int
	Failed    int
	Skipped   int
}

// Drain processes one batch of pending and retry-eligible failed
// entries to completion. If a drain is already running, it returns
// immediately with a zero result.
func (d *Dispatcher) Drain(ctx context.Context) (DrainResult, error) {
	if !d.mu.TryLock() {
		return DrainResult{}, nil
	}
	defer d.mu.Unlock()

	entries, err := d.q.PeekPending(d.cfg.BatchSize)
	if err != nil {
		return DrainResult{}, err
	}

	var res DrainResult
	now := time.Now()
	for _, e := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if e.Status == outbox.StatusFailed && !d.retryEligible(e, now) {
			res.Skipped++
			continue
		}
		if err := d.q.MarkInProgress(e.ID); err != nil {
			return res, err
		}
		if err := d.execute(ctx, &e); err != nil {
			res.Failed++
			logging.Warn("Outbox entry failed", map[string]interface{}{
				"id":        e.ID,
				"tabel":     e.Tabel,
				"operation": e.Operation,
				"error":     err.Error(),
			})
			if markErr := d.q.MarkFailed(e.ID, err); markErr != nil {
				return res, markErr
			}
			continue
		}
		res.Completed++
		if err := d.q.MarkCompleted(e.ID); err != nil {
			return res, err
		}
	}

	if res.Completed > 0 || res.Failed > 0 {
		logging.Info("Outbox drain finished", map[string]interface{}{
			"completed": res.Completed,
			"failed":    res.Failed,
			"skipped":   res.Skipped,
		})
	}
	return res, nil
}

// retryEligible gates failed entries behind capped exponential backoff:
// base * 2^(retries-1), capped.
func (d *Dispatcher) retryEligible(e outbox.Entry, now time.Time) bool {
	if e.RetryCount <= 0 {
		return true
	}
	delay := d.cfg.RetryBase << uint(e.RetryCount-1)
	if delay > d.cfg.RetryCap || delay <= 0 {
		delay = d.cfg.RetryCap
	}
	return now.Unix() >= e.UpdatedAt+int64(delay.Seconds())
}

// execute runs the backend call sequence for one entry. Any step error
// aborts the remaining steps; no compensation is attempted against the
// backend for steps that already succeeded.
func (d *Dispatcher) execute(ctx context.Context, e *outbox.Entry) error {
	payload, err := e.DecodePayload()
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *outbox.InsertPayload:
		confirmed, err := d.client.Insert(ctx, e.Tabel, p.Row, e.IdemKey)
		if err != nil {
			return err
		}
		return d.rec.Reconcile(e.Tabel, confirmed, e.LocalPlaceholderID)

	case *outbox.UpdatePayload:
		if err := requirePK(e, p.PK); err != nil {
			return err
		}
		return d.client.Update(ctx, e.Tabel, e.PKField, p.PK, p.Patch)

	case *outbox.DeletePayload:
		if err := requirePK(e, p.PK); err != nil {
			return err
		}
		return d.client.Delete(ctx, e.Tabel, e.PKField, p.PK)

	case *outbox.PenagihanCreatePayload:
		return d.penagihanCreate(ctx, e, p)
	case *outbox.PenagihanUpdatePayload:
		return d.penagihanUpdate(ctx, e, p)
	case *outbox.PenagihanDeletePayload:
		return d.penagihanDelete(ctx, e, p)
	case *outbox.PengirimanCreatePayload:
		return d.pengirimanCreate(ctx, e, p)
	case *outbox.PengirimanUpdatePayload:
		return d.pengirimanUpdate(ctx, e, p)
	case *outbox.PengirimanDeletePayload:
		return d.pengirimanDelete(ctx, e, p)

	default:
		return apperrors.Newf(apperrors.ErrUnknownPayload, "no executor for %q", e.Operation)
	}
}

// requirePK rejects malformed intents locally; a write with no real
// primary key must never reach the backend.
func requirePK(e *outbox.Entry, pk int64) error {
	if e.PKField == "" || pk == 0 {
		return apperrors.Newf(apperrors.ErrMissingPK, "%s on %s without primary key", e.Operation, e.Tabel)
	}
	return nil
}

// pkFromRow extracts the confirmed primary key from a backend row.
func pkFromRow(row json.RawMessage, field string) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(row))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrBackendWrite, "decode confirmed row", err)
	}
	n, ok := raw[field].(json.Number)
	if !ok {
		return 0, apperrors.Newf(apperrors.ErrBackendWrite, "confirmed row missing %q", field)
	}
	id, err := n.Int64()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrBackendWrite, "parse confirmed id", err)
	}
	return id, nil
}
