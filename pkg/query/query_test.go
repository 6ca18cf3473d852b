package query

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/actor"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/config"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// The three projections read real location_update_queue rows; exercised
// against a real Postgres instance the way the teacher's own repository
// tests require CERTEN_TEST_DB. Set GEOLINK_TEST_DATABASE_URL to run these.
var testClient *database.Client

func TestMain(m *testing.M) {
	connStr := os.Getenv("GEOLINK_TEST_DATABASE_URL")
	if connStr == "" {
		os.Exit(0)
	}

	cfg := &config.Config{
		DatabaseURL:         connStr,
		DatabaseMaxConns:    5,
		DatabaseMinConns:    1,
		DatabaseMaxIdleTime: 300,
		DatabaseMaxLifetime: 3600,
	}
	client, err := database.NewClient(cfg)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		panic("failed to migrate test database: " + err.Error())
	}
	testClient = client

	code := m.Run()
	os.Exit(code)
}

func TestPendingExcludesTerminalResults(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()
	queueRepo := database.NewQueueRepository(testClient)
	store := NewStore(queueRepo)

	results := []database.ExecutionResult{
		{RuleID: "rule-pending", MatchedPublicKey: "GQ1", Skipped: true, Reason: database.ReasonRequiresWebauthn},
		{RuleID: "rule-done", MatchedPublicKey: "GQ1", Completed: true},
	}
	resultsRaw, _ := json.Marshal(results)
	if _, err := queueRepo.Insert(ctx, &database.LocationUpdate{
		UserID: "user-q1", PublicKey: "GQ1", Lat: 1, Lng: 1,
		Status: database.QueueStatusMatched, MatchedRuleIDsRaw: json.RawMessage(`["rule-pending","rule-done"]`), ExecutionResultsRaw: resultsRaw,
	}); err != nil {
		t.Fatalf("failed to insert location update: %v", err)
	}

	pk := "GQ1"
	proj, err := store.Pending(ctx, actor.New("user-q1", &pk), &pk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proj.Count != 1 || proj.Entries[0].Result.RuleID != "rule-pending" {
		t.Fatalf("expected exactly the non-terminal rule-pending entry, got %+v", proj.Entries)
	}
}

func TestPendingExcludesNonWebauthnSkips(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()
	queueRepo := database.NewQueueRepository(testClient)
	store := NewStore(queueRepo)

	results := []database.ExecutionResult{
		{RuleID: "rule-rate-limited", MatchedPublicKey: "GQ3", Skipped: true, Reason: database.ReasonRateLimited},
		{RuleID: "rule-quorum", MatchedPublicKey: "GQ3", Skipped: true, Reason: database.ReasonQuorumUnmet},
	}
	resultsRaw, _ := json.Marshal(results)
	if _, err := queueRepo.Insert(ctx, &database.LocationUpdate{
		UserID: "user-q3", PublicKey: "GQ3", Lat: 1, Lng: 1,
		Status: database.QueueStatusMatched, MatchedRuleIDsRaw: json.RawMessage(`["rule-rate-limited","rule-quorum"]`), ExecutionResultsRaw: resultsRaw,
	}); err != nil {
		t.Fatalf("failed to insert location update: %v", err)
	}

	pk := "GQ3"
	proj, err := store.Pending(ctx, actor.New("user-q3", &pk), &pk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proj.Count != 0 {
		t.Fatalf("expected non-webauthn skip reasons to be excluded from Pending, got %+v", proj.Entries)
	}
}

func TestCompletedKeepsSameTransactionHashAcrossDistinctUpdates(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()
	queueRepo := database.NewQueueRepository(testClient)
	store := NewStore(queueRepo)

	results := []database.ExecutionResult{
		{RuleID: "rule-x", MatchedPublicKey: "GQ2", Completed: true, TransactionHash: "txhash-dup"},
	}
	resultsRaw, _ := json.Marshal(results)
	row1, err := queueRepo.Insert(ctx, &database.LocationUpdate{
		UserID: "user-q2", PublicKey: "GQ2", Lat: 1, Lng: 1,
		Status: database.QueueStatusExecuted, MatchedRuleIDsRaw: json.RawMessage(`["rule-x"]`), ExecutionResultsRaw: resultsRaw,
	})
	if err != nil {
		t.Fatalf("failed to insert first location update: %v", err)
	}
	if _, err := queueRepo.Insert(ctx, &database.LocationUpdate{
		UserID: "user-q2", PublicKey: "GQ2", Lat: 1, Lng: 1,
		Status: database.QueueStatusExecuted, MatchedRuleIDsRaw: json.RawMessage(`["rule-x"]`), ExecutionResultsRaw: resultsRaw,
	}); err != nil {
		t.Fatalf("failed to insert second location update: %v", err)
	}

	pk := "GQ2"
	proj, err := store.Completed(ctx, actor.New("user-q2", &pk), &pk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proj.Count != 2 {
		t.Fatalf("expected both rows to surface (distinct updateId dedup component), got count=%d", proj.Count)
	}
	found := false
	for _, e := range proj.Entries {
		if e.UpdateID == row1.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the first inserted row to be present in the projection")
	}
}
