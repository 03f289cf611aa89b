// Package events carries the observable record of registry, election and
// certificate changes. Events are published only after the change they describe
// has committed, and a failed publish never undoes that change.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"accredit/pkg/types"
)

type Type string

const (
	RegistryInitialized  Type = "registry_initialized"
	InstituteRemoved     Type = "institute_removed"
	ElectionOpened       Type = "election_opened"
	VoteCast             Type = "vote_cast"
	InstituteAdmitted    Type = "institute_admitted"
	InstituteRejected    Type = "institute_rejected"
	CertificateAdded     Type = "certificate_added"
	CertificateCorrected Type = "certificate_corrected"
)

// Event is a flattened audit record. Which fields are set depends on Type:
//
//	registry_initialized   Actor=authority MemberCount
//	institute_removed      Subject Actor=authority MemberCount
//	election_opened        Subject=candidate Actor=proposer Address EligibleVoters
//	vote_cast              Subject=candidate Actor=voter InFavor Address
//	institute_admitted     Subject=candidate Address MemberCount
//	institute_rejected     Subject=candidate Address VotesFor VotesAgainst
//	certificate_added      Actor=issuer ContentHash Address
//	certificate_corrected  Actor=issuer PreviousHash ContentHash Address
type Event struct {
	Type           Type           `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	Address        types.Address  `json:"address"`
	Subject        types.Identity `json:"subject"`
	Actor          types.Identity `json:"actor"`
	InFavor        bool           `json:"in_favor,omitempty"`
	ContentHash    *types.Hash    `json:"content_hash,omitempty"`
	PreviousHash   *types.Hash    `json:"previous_hash,omitempty"`
	MemberCount    uint32         `json:"member_count,omitempty"`
	EligibleVoters uint32         `json:"eligible_voters,omitempty"`
	VotesFor       uint32         `json:"votes_for,omitempty"`
	VotesAgainst   uint32         `json:"votes_against,omitempty"`
}

type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Filter narrows a List query. Zero values match everything.
type Filter struct {
	Type    Type
	Subject *types.Identity
	Actor   *types.Identity
	Since   time.Time
	Limit   int
}

func (f Filter) match(ev Event) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Subject != nil && ev.Subject != *f.Subject {
		return false
	}
	if f.Actor != nil && ev.Actor != *f.Actor {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

type nop struct{}

func (nop) Emit(context.Context, Event) error { return nil }

// Nop discards every event
func Nop() Emitter { return nop{} }

type multi []Emitter

func (m multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Multi fans an event out to every emitter. All emitters are attempted even
// when some fail.
func Multi(emitters ...Emitter) Emitter {
	return multi(emitters)
}

// Recorder keeps events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) List(_ context.Context, f Filter) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if !f.match(ev) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Types returns the event types in emission order
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
