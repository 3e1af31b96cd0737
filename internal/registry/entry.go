package registry

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Entry is everything stored under one key: the current record and the
// records it superseded, newest first.
type Entry struct {
	Current *Record   `json:"current"`
	History []*Record `json:"history,omitempty"`
}

func decodeEntry(key string, raw []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, &RegistryCorruptionError{Key: key, Err: err}
	}
	if e.Current == nil {
		return nil, &RegistryCorruptionError{Key: key, Err: fmt.Errorf("missing current record")}
	}
	if err := checkDecoded(key, e.Current); err != nil {
		return nil, err
	}
	for _, h := range e.History {
		if err := checkDecoded(key, h); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func decodeRecord(key string, raw []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &RegistryCorruptionError{Key: key, Err: err}
	}
	if err := checkDecoded(key, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func checkDecoded(key string, r *Record) error {
	if r == nil {
		return &RegistryCorruptionError{Key: key, Err: fmt.Errorf("null record")}
	}
	if err := r.Validate(); err != nil {
		return &RegistryCorruptionError{Key: key, Err: err}
	}
	if r.Key() != key {
		return &RegistryCorruptionError{Key: key, Err: fmt.Errorf("record belongs to %q", r.Key())}
	}
	return nil
}

// apply upserts rec into the entry. rec's ID, Supersedes and timestamps are
// filled in from the stored state. Returns whether anything changed and the
// record moved to history, if any.
func (e *Entry) apply(rec *Record, now time.Time) (changed bool, superseded *Record) {
	cur := e.Current

	switch {
	case cur == nil:
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		e.Current = rec.Clone()
		return true, nil

	case cur.TxHash == rec.TxHash:
		rec.ID = cur.ID
		rec.CreatedAt = cur.CreatedAt
		rec.Supersedes = cur.Supersedes
		if sameContent(cur, rec) {
			rec.UpdatedAt = cur.UpdatedAt
			return false, nil
		}
		rec.UpdatedAt = now
		e.Current = rec.Clone()
		return true, nil

	default:
		old := cur
		prev := old.TxHash
		rec.Supersedes = &prev
		if rec.ID == "" || rec.ID == old.ID {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now
		e.History = append([]*Record{old}, e.History...)
		e.Current = rec.Clone()
		return true, old
	}
}

func (e *Entry) confirm(blockNumber uint64, now time.Time) (bool, error) {
	cur := e.Current
	switch cur.Status {
	case StatusFailed:
		return false, fmt.Errorf("%w: %s is failed", ErrInvalidTransition, cur.Key())
	case StatusConfirmed:
		if cur.BlockNumber != nil && *cur.BlockNumber == blockNumber {
			return false, nil
		}
	}
	cur.Status = StatusConfirmed
	cur.BlockNumber = &blockNumber
	cur.Error = ""
	cur.UpdatedAt = now
	return true, nil
}

func (e *Entry) fail(reason string, now time.Time) (bool, error) {
	cur := e.Current
	switch cur.Status {
	case StatusConfirmed:
		return false, fmt.Errorf("%w: %s is confirmed", ErrInvalidTransition, cur.Key())
	case StatusFailed:
		if cur.Error == reason {
			return false, nil
		}
	}
	cur.Status = StatusFailed
	cur.Error = reason
	cur.UpdatedAt = now
	return true, nil
}

// sameContent compares records ignoring bookkeeping fields.
func sameContent(a, b *Record) bool {
	x, y := a.Clone(), b.Clone()
	for _, r := range []*Record{x, y} {
		r.ID = ""
		r.Supersedes = nil
		r.CreatedAt = time.Time{}
		r.UpdatedAt = time.Time{}
		if len(r.RawTx) == 0 {
			r.RawTx = nil
		}
	}
	return reflect.DeepEqual(x, y)
}

func copyRecords(in []*Record) []*Record {
	out := make([]*Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
