package quorum

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/config"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
)

// Exercising Oracle.CheckQuorum against the quorum_type/minimum_wallet_count
// columns needs a real Postgres instance, the same way the teacher's own
// repository tests require CERTEN_TEST_DB. Set GEOLINK_TEST_DATABASE_URL to
// run these; they're skipped otherwise.
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

func TestCheckQuorumAnyWithOneWalletInRange(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()

	ruleRepo := database.NewRuleRepository(testClient)
	contractRepo := database.NewContractRepository(testClient)
	queueRepo := database.NewQueueRepository(testClient)
	geofenceRepo := database.NewGeofenceRepository(testClient)

	contract, err := contractRepo.Upsert(ctx, &database.CustomContract{
		UserID:  "user-1",
		Address: "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789ABCDEFGHIJKLMNOPQRST",
		Network: database.NetworkTestnet,
	})
	if err != nil {
		t.Fatalf("failed to create contract: %v", err)
	}

	wallets, _ := json.Marshal([]string{"GWALLETONE", "GWALLETTWO"})
	rule, err := ruleRepo.Create(ctx, &database.ExecutionRule{
		UserID:                   "user-1",
		ContractID:               contract.ID,
		RuleName:                 "quorum-any",
		RuleType:                 database.RuleTypeLocation,
		CenterLat:                sql.NullFloat64{Float64: 40.0, Valid: true},
		CenterLng:                sql.NullFloat64{Float64: -73.0, Valid: true},
		RadiusMeters:             sql.NullFloat64{Float64: 100, Valid: true},
		FunctionName:             "transfer",
		QuorumType:               database.QuorumAny,
		RequiredWalletPublicKeys: wallets,
	})
	if err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	if _, err := queueRepo.Insert(ctx, &database.LocationUpdate{
		UserID: "user-1", PublicKey: "GWALLETONE", Lat: 40.0001, Lng: -73.0001,
		Status: database.QueueStatusPending, MatchedRuleIDsRaw: json.RawMessage(`[]`), ExecutionResultsRaw: json.RawMessage(`[]`),
	}); err != nil {
		t.Fatalf("failed to insert location update: %v", err)
	}

	oracle := NewOracle(ruleRepo, queueRepo, geofenceRepo)
	result, err := oracle.CheckQuorum(ctx, rule.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.QuorumMet {
		t.Fatalf("expected quorumType=any to be met with one wallet in range")
	}
	if result.CountInRange != 1 {
		t.Fatalf("expected CountInRange=1, got %d", result.CountInRange)
	}
}

func TestCheckQuorumAllRequiresEveryWallet(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()

	ruleRepo := database.NewRuleRepository(testClient)
	contractRepo := database.NewContractRepository(testClient)
	queueRepo := database.NewQueueRepository(testClient)
	geofenceRepo := database.NewGeofenceRepository(testClient)

	contract, err := contractRepo.Upsert(ctx, &database.CustomContract{
		UserID:  "user-2",
		Address: "BBCDEFGHIJKLMNOPQRSTUVWXYZ0123456789ABCDEFGHIJKLMNOPQRST",
		Network: database.NetworkTestnet,
	})
	if err != nil {
		t.Fatalf("failed to create contract: %v", err)
	}

	wallets, _ := json.Marshal([]string{"GALPHA", "GBETA"})
	rule, err := ruleRepo.Create(ctx, &database.ExecutionRule{
		UserID:                   "user-2",
		ContractID:               contract.ID,
		RuleName:                 "quorum-all",
		RuleType:                 database.RuleTypeLocation,
		CenterLat:                sql.NullFloat64{Float64: 10.0, Valid: true},
		CenterLng:                sql.NullFloat64{Float64: 20.0, Valid: true},
		RadiusMeters:             sql.NullFloat64{Float64: 50, Valid: true},
		FunctionName:             "transfer",
		QuorumType:               database.QuorumAll,
		RequiredWalletPublicKeys: wallets,
	})
	if err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	if _, err := queueRepo.Insert(ctx, &database.LocationUpdate{
		UserID: "user-2", PublicKey: "GALPHA", Lat: 10.0001, Lng: 20.0001,
		Status: database.QueueStatusPending, MatchedRuleIDsRaw: json.RawMessage(`[]`), ExecutionResultsRaw: json.RawMessage(`[]`),
	}); err != nil {
		t.Fatalf("failed to insert location update: %v", err)
	}
	// GBETA never reports a location: quorumType=all must not be met.

	oracle := NewOracle(ruleRepo, queueRepo, geofenceRepo)
	result, err := oracle.CheckQuorum(ctx, rule.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.QuorumMet {
		t.Fatalf("expected quorumType=all to be unmet when one wallet has never reported a location")
	}
	if len(result.WalletsOutOfRange) != 1 || result.WalletsOutOfRange[0] != "GBETA" {
		t.Fatalf("expected GBETA to be reported out of range, got %v", result.WalletsOutOfRange)
	}
}
