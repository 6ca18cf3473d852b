// Package query implements the Query API (C8): the pending/completed/
// rejected projections over an actor's recent queue history, each
// de-duplicated by its own key and each reporting the number of entries it
// kept (spec.md §4.8, §6).
package query

import (
	"context"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/actor"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// Entry is one projected ExecutionResult alongside the queue row it came
// from, for building HTTP responses.
type Entry struct {
	UpdateID string
	Lat      float64
	Lng      float64
	Result   database.ExecutionResult
}

// Projection is a de-duplicated list plus its count. Count is len(Entries)
// over the most recent 200 queue rows; it is not computed by a separate
// COUNT(*) query.
type Projection struct {
	Entries []Entry
	Count   int
}

// Store runs the three projections over an actor's recent queue rows.
type Store struct {
	queue *database.QueueRepository
}

// NewStore builds a Store.
func NewStore(queue *database.QueueRepository) *Store {
	return &Store{queue: queue}
}

const recentLimit = 200

// Pending returns every ExecutionResult awaiting a WebAuthn-gated completion
// (skipped=true ∧ reason=requires_webauthn ∧ !completed ∧ !rejected) for the
// actor, de-duplicated by (ruleId, matchedPublicKey ?? publicKey) keeping the
// most recent (spec.md §4.8). Other skip reasons (rate_limited,
// quorum_unmet, balance_low, requires_confirmation) are not recoverable
// through this projection.
func (s *Store) Pending(ctx context.Context, a actor.Actor, publicKey *string) (*Projection, error) {
	rows, err := s.queue.RecentForActor(ctx, a.UserID, publicKey, recentLimit)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var entries []Entry
	for _, row := range rows {
		results, err := row.GetExecutionResults()
		if err != nil {
			continue
		}
		for _, r := range results {
			if r.IsTerminal() || r.PendingConfirmation || !r.Skipped || r.Reason != database.ReasonRequiresWebauthn {
				continue
			}
			key := r.RuleID + "|" + actorKey(r.MatchedPublicKey, row.PublicKey)
			if seen[key] {
				continue
			}
			seen[key] = true
			entries = append(entries, Entry{UpdateID: row.ID, Lat: row.Lat, Lng: row.Lng, Result: r})
		}
	}
	return &Projection{Entries: entries, Count: len(entries)}, nil
}

// Completed returns every completed ExecutionResult for the actor,
// de-duplicated by (ruleId, transactionHash, updateId, matchedPublicKey),
// with the element's ordinality added to the key only when transactionHash
// is empty (spec.md §4.8).
func (s *Store) Completed(ctx context.Context, a actor.Actor, publicKey *string) (*Projection, error) {
	rows, err := s.queue.RecentForActor(ctx, a.UserID, publicKey, recentLimit)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var entries []Entry
	for _, row := range rows {
		results, err := row.GetExecutionResults()
		if err != nil {
			continue
		}
		for i, r := range results {
			if !r.Completed {
				continue
			}
			key := completedKey(r, row.ID, i)
			if seen[key] {
				continue
			}
			seen[key] = true
			entries = append(entries, Entry{UpdateID: row.ID, Lat: row.Lat, Lng: row.Lng, Result: r})
		}
	}
	return &Projection{Entries: entries, Count: len(entries)}, nil
}

// Rejected returns every rejected ExecutionResult for the actor,
// de-duplicated by (ruleId, rejectedAt), falling back to (ruleId, updateId)
// when rejectedAt is unset (spec.md §4.8).
func (s *Store) Rejected(ctx context.Context, a actor.Actor, publicKey *string) (*Projection, error) {
	rows, err := s.queue.RecentForActor(ctx, a.UserID, publicKey, recentLimit)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var entries []Entry
	for _, row := range rows {
		results, err := row.GetExecutionResults()
		if err != nil {
			continue
		}
		for _, r := range results {
			if !r.Rejected {
				continue
			}
			key := r.RuleID + "|"
			if r.RejectedAt != nil {
				key += r.RejectedAt.UTC().String()
			} else {
				key += row.ID
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			entries = append(entries, Entry{UpdateID: row.ID, Lat: row.Lat, Lng: row.Lng, Result: r})
		}
	}
	return &Projection{Entries: entries, Count: len(entries)}, nil
}

func actorKey(matchedPublicKey, rowPublicKey string) string {
	if matchedPublicKey != "" {
		return matchedPublicKey
	}
	return rowPublicKey
}

func completedKey(r database.ExecutionResult, updateID string, ordinality int) string {
	key := r.RuleID + "|" + r.TransactionHash + "|" + updateID + "|" + r.MatchedPublicKey
	if r.TransactionHash == "" {
		key += "|" + string(rune('0'+ordinality))
	}
	return key
}
