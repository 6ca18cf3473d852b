// Package completion implements the Completion/Rejection Manager (C7): the
// idempotent state machine that marks a specific pending ExecutionResult
// element completed or rejected, and cleans up stale sibling rows once a
// definitive outcome is known (spec.md §4.7, §5).
package completion

import (
	"context"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/apierror"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// Key identifies the logical target of a completion/rejection call. UpdateID,
// when set, is tried first; RuleID and MatchedPublicKey, when set, both
// narrow which ExecutionResult element matches, on that row and on the
// recent-row fallback alike (spec.md §4.7).
type Key struct {
	UserID           string
	RuleID           string
	UpdateID         string
	MatchedPublicKey string
}

// Manager runs markCompleted/markRejected inside a single transaction per
// call, using SELECT ... FOR UPDATE to serialize concurrent callers racing
// over the same queue rows (spec.md §5).
type Manager struct {
	db      *database.Client
	queue   *database.QueueRepository
	history *database.HistoryRepository
}

// NewManager builds a Manager.
func NewManager(db *database.Client, queue *database.QueueRepository, history *database.HistoryRepository) *Manager {
	return &Manager{db: db, queue: queue, history: history}
}

// MarkCompleted locates the ExecutionResult element identified by key,
// idempotently sets Completed=true/CompletedAt/TransactionHash/Success on
// it, appends a history row, and cleans up stale sibling rows (spec.md
// §4.7). Re-invocation with the same logical key is a no-op once the target
// element is already terminal.
func (m *Manager) MarkCompleted(ctx context.Context, key Key, transactionHash string, success bool) (*database.LocationUpdate, error) {
	return m.resolve(ctx, key, func(e *database.ExecutionResult) {
		e.Completed = true
		now := time.Now()
		e.CompletedAt = &now
		e.TransactionHash = transactionHash
		e.Success = success
	})
}

// MarkRejected locates the ExecutionResult element identified by key,
// idempotently sets Rejected=true/RejectedAt/Reason on it, and cleans up
// stale sibling rows (spec.md §4.7).
func (m *Manager) MarkRejected(ctx context.Context, key Key, reason string) (*database.LocationUpdate, error) {
	return m.resolve(ctx, key, func(e *database.ExecutionResult) {
		e.Rejected = true
		now := time.Now()
		e.RejectedAt = &now
		e.Reason = reason
	})
}

// resolve finds the target row+element under a row lock, applies mutate if
// the element is not already terminal, persists, and runs cleanup — all in
// one transaction.
func (m *Manager) resolve(ctx context.Context, key Key, mutate func(*database.ExecutionResult)) (*database.LocationUpdate, error) {
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return nil, apierror.Internal("failed to begin transaction", err)
	}
	defer tx.Rollback()

	target, idx, err := m.lockTarget(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	results, err := target.GetExecutionResults()
	if err != nil {
		return nil, apierror.Internal("failed to decode execution results", err)
	}

	ruleID := results[idx].RuleID
	matchedPublicKey := results[idx].MatchedPublicKey

	if !results[idx].IsTerminal() && results[idx].Reason == database.ReasonRequiresWebauthn {
		mutate(&results[idx])
		if err := target.SetExecutionResults(results); err != nil {
			return nil, apierror.Internal("failed to encode execution results", err)
		}
		status := database.QueueStatusExecuted
		if err := m.queue.UpdateResultsTx(ctx, tx, target.ID, status, true, results); err != nil {
			return nil, apierror.Internal("failed to persist execution results", err)
		}
		if results[idx].TransactionHash != "" {
			_ = m.history.AppendTx(ctx, tx, results[idx].RuleID, results[idx].MatchedPublicKey, results[idx].TransactionHash,
				map[string]interface{}{"completed": results[idx].Completed, "rejected": results[idx].Rejected})
		}
	}

	if err := m.cleanup(ctx, tx, key, ruleID, matchedPublicKey, target.ID, target.ReceivedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.Internal("failed to commit transaction", err)
	}
	return target, nil
}

// lockTarget finds the most specific matching LocationUpdate row — by
// (userId, updateId), then (userId, matchedPublicKey), then (userId,
// ruleId) — and locks it FOR UPDATE, returning the row and the index of the
// matching ExecutionResult element (spec.md §4.7 lookup order).
func (m *Manager) lockTarget(ctx context.Context, tx *database.Tx, key Key) (*database.LocationUpdate, int, error) {
	if key.UpdateID != "" {
		row, err := m.queue.LockForUpdate(ctx, tx, key.UpdateID)
		if err == nil && row.UserID == key.UserID {
			if idx, ok := indexForKey(row, key); ok {
				return row, idx, nil
			}
		}
	}

	var publicKeyPtr *string
	if key.MatchedPublicKey != "" {
		publicKeyPtr = &key.MatchedPublicKey
	}
	candidates, err := m.queue.RecentForActor(ctx, key.UserID, publicKeyPtr, 50)
	if err != nil {
		return nil, 0, apierror.Internal("failed to list candidate queue rows", err)
	}
	for _, row := range candidates {
		locked, err := m.queue.LockForUpdate(ctx, tx, row.ID)
		if err != nil {
			continue
		}
		if idx, ok := indexForKey(locked, key); ok {
			return locked, idx, nil
		}
	}

	return nil, 0, apierror.NotFound("no pending execution result matches rule=%q update=%q publicKey=%q", key.RuleID, key.UpdateID, key.MatchedPublicKey)
}

// indexForKey reports the index of the ExecutionResult element in row that
// matches key's ruleId/matchedPublicKey narrowing, if any. An empty
// RuleID/MatchedPublicKey on key is a wildcard for that dimension.
func indexForKey(row *database.LocationUpdate, key Key) (int, bool) {
	results, err := row.GetExecutionResults()
	if err != nil {
		return 0, false
	}
	for i, e := range results {
		if key.RuleID != "" && e.RuleID != key.RuleID {
			continue
		}
		if key.MatchedPublicKey != "" && e.MatchedPublicKey != key.MatchedPublicKey {
			continue
		}
		return i, true
	}
	return 0, false
}

// cleanup deletes stale sibling queue rows for the same actor and rule once a
// definitive outcome is recorded, per spec.md §4.7 step 6: a candidate is
// scoped to ruleID and received_at <= target's received_at, and is deleted
// only if it is not targetID and none of its ExecutionResult elements are
// Completed (a row with any completed element is never removed).
func (m *Manager) cleanup(ctx context.Context, tx *database.Tx, key Key, ruleID, matchedPublicKey, targetID string, receivedAtCutoff time.Time) error {
	publicKey := matchedPublicKey
	if publicKey == "" {
		publicKey = key.MatchedPublicKey
	}
	candidates, err := m.queue.LockCandidatesForUpdate(ctx, tx, key.UserID, publicKey, ruleID, targetID, receivedAtCutoff)
	if err != nil {
		return apierror.Internal("failed to lock cleanup candidates", err)
	}
	for _, row := range candidates {
		if row.ID == targetID {
			continue
		}
		results, err := row.GetExecutionResults()
		if err != nil {
			continue
		}
		hasCompleted := false
		for _, e := range results {
			if e.Completed {
				hasCompleted = true
				break
			}
		}
		if hasCompleted {
			continue
		}
		_ = m.queue.DeleteTx(ctx, tx, row.ID)
	}
	return nil
}
