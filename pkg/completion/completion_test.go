package completion

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/config"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// The idempotent completion/rejection state machine is exercised against a
// real Postgres instance, the same way the teacher's own repository tests
// require CERTEN_TEST_DB. Set GEOLINK_TEST_DATABASE_URL to run these.
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

func TestMarkCompletedIsIdempotent(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()
	queueRepo := database.NewQueueRepository(testClient)
	historyRepo := database.NewHistoryRepository(testClient)
	mgr := NewManager(testClient, queueRepo, historyRepo)

	results := []database.ExecutionResult{{RuleID: "rule-1", MatchedPublicKey: "GPUB", Skipped: true, Reason: database.ReasonRequiresWebauthn}}
	resultsRaw, _ := json.Marshal(results)
	row, err := queueRepo.Insert(ctx, &database.LocationUpdate{
		UserID: "user-1", PublicKey: "GPUB", Lat: 1, Lng: 2,
		Status: database.QueueStatusMatched, MatchedRuleIDsRaw: json.RawMessage(`["rule-1"]`), ExecutionResultsRaw: resultsRaw,
	})
	if err != nil {
		t.Fatalf("failed to insert location update: %v", err)
	}

	key := Key{UserID: "user-1", RuleID: "rule-1", UpdateID: row.ID}

	first, err := mgr.MarkCompleted(ctx, key, "txhash-1", true)
	if err != nil {
		t.Fatalf("unexpected error on first MarkCompleted: %v", err)
	}
	firstResults, _ := first.GetExecutionResults()
	if !firstResults[0].Completed || firstResults[0].TransactionHash != "txhash-1" {
		t.Fatalf("expected the element to be marked completed with txhash-1, got %+v", firstResults[0])
	}

	// Re-invocation with the same key and a different hash must be a no-op:
	// the element is already terminal.
	second, err := mgr.MarkCompleted(ctx, key, "txhash-2", true)
	if err != nil {
		t.Fatalf("unexpected error on second MarkCompleted: %v", err)
	}
	secondResults, _ := second.GetExecutionResults()
	if secondResults[0].TransactionHash != "txhash-1" {
		t.Fatalf("expected MarkCompleted to be idempotent, got transactionHash=%q", secondResults[0].TransactionHash)
	}
}

func TestMarkRejectedNotFound(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()
	queueRepo := database.NewQueueRepository(testClient)
	historyRepo := database.NewHistoryRepository(testClient)
	mgr := NewManager(testClient, queueRepo, historyRepo)

	key := Key{UserID: "no-such-user", RuleID: "no-such-rule"}
	if _, err := mgr.MarkRejected(ctx, key, "user cancelled"); err == nil {
		t.Fatalf("expected an error for a key matching nothing")
	}
}
