// Package outcome persists a summary of every finished interview.
//
// Two backends exist: [PostgresStore] for deployments with a database and
// [FileStore], which appends JSON lines to a local file. [Multi] fans a save
// out to several stores.
package outcome

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/interviewer/internal/interview"
)

// Record is the stored summary of one interview.
type Record struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       time.Time         `json:"ended_at"`
	Outcome       string            `json:"outcome"`
	Answer        string            `json:"answer,omitempty"`
	Phases        []string          `json:"phases"`
	Prompts       int               `json:"prompts"`
	Utterances    []UtteranceRecord `json:"utterances,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// UtteranceRecord summarises one open-ended answer.
type UtteranceRecord struct {
	Spoke      bool  `json:"spoke"`
	Pauses     int   `json:"pauses"`
	Feedbacks  int   `json:"feedbacks"`
	Cues       int   `json:"cues"`
	DurationMS int64 `json:"duration_ms"`
}

// FromResult builds a record with a fresh ID from an interview result.
func FromResult(res *interview.Result) Record {
	rec := Record{
		ID:            uuid.NewString(),
		CorrelationID: res.CorrelationID,
		StartedAt:     res.StartedAt.UTC(),
		EndedAt:       res.EndedAt.UTC(),
		Outcome:       res.Outcome(),
		Answer:        res.Answer,
		Phases:        make([]string, len(res.Phases)),
		Prompts:       res.Prompts,
	}
	for i, p := range res.Phases {
		rec.Phases[i] = string(p)
	}
	for _, u := range res.Utterances {
		rec.Utterances = append(rec.Utterances, UtteranceRecord{
			Spoke:      u.Spoke,
			Pauses:     u.Pauses,
			Feedbacks:  u.Feedbacks,
			Cues:       u.Cues,
			DurationMS: u.Duration.Milliseconds(),
		})
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}

// Store saves interview records and lists the most recent ones.
type Store interface {
	Save(ctx context.Context, rec Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// Pinger is implemented by stores that can report whether they are reachable
// without reading any records.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks s when it implements [Pinger]. Other stores are assumed
// reachable.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Multi saves to every store and reads from the first one that answers.
type Multi []Store

var (
	_ Store  = Multi(nil)
	_ Pinger = Multi(nil)
)

// Save saves rec to every store, joining the errors of those that fail.
func (m Multi) Save(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent reads from the first store that succeeds, in order. It fails only
// when every store fails. An empty Multi has no records.
func (m Multi) Recent(ctx context.Context, limit int) ([]Record, error) {
	var errs []error
	for _, s := range m {
		recs, err := s.Recent(ctx, limit)
		if err == nil {
			return recs, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// Ping succeeds when at least one store is reachable, since saves to that
// store still land.
func (m Multi) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		err := Ping(ctx, s)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
