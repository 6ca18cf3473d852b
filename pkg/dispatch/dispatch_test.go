package dispatch

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chainrpc"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/config"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/execution"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/locationmatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/ratelimit"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
)

// Ingest's decision ladder touches every repository (matching, rate limit,
// quorum, auto-execution history); exercised against a real Postgres
// instance the way the teacher's own repository tests require CERTEN_TEST_DB.
// Set GEOLINK_TEST_DATABASE_URL to run these.
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

// fakeChain is a minimal in-memory chainrpc.Client double, following the
// package's own doc comment: "a test double can be a plain in-memory stub".
type fakeChain struct{}

func (f *fakeChain) Simulate(ctx context.Context, contractAddress, functionName string, parameters map[string]interface{}) (*chainrpc.SimulateResult, error) {
	return &chainrpc.SimulateResult{Success: true, ReturnValue: chainrpc.ScVal{Type: "Bool", Bool: boolPtr(true)}}, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, contractAddress, functionName string, parameters map[string]interface{}, secretKey string) (*chainrpc.SubmitResult, error) {
	return &chainrpc.SubmitResult{Hash: "fakehash123", Status: chainrpc.TxStatusSuccess}, nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, hash string) (*chainrpc.GetTransactionResult, error) {
	return &chainrpc.GetTransactionResult{Status: chainrpc.TxStatusSuccess, Ledger: 1}, nil
}

func (f *fakeChain) ContractExists(ctx context.Context, contractAddress, network string) (bool, error) {
	return true, nil
}

func (f *fakeChain) DiscoverFunctions(ctx context.Context, contractAddress, network string) (map[string][]chainrpc.Parameter, error) {
	return map[string][]chainrpc.Parameter{}, nil
}

func boolPtr(b bool) *bool { return &b }

type alwaysMetOracle struct{}

func (alwaysMetOracle) CheckQuorum(ctx context.Context, ruleID string) (*rules.QuorumResult, error) {
	return &rules.QuorumResult{QuorumMet: true}, nil
}

func TestIngestAutoExecutesWhenRuleAllows(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()

	contractRepo := database.NewContractRepository(testClient)
	ruleRepo := database.NewRuleRepository(testClient)
	geofenceRepo := database.NewGeofenceRepository(testClient)
	queueRepo := database.NewQueueRepository(testClient)
	historyRepo := database.NewHistoryRepository(testClient)

	contract, err := contractRepo.Upsert(ctx, &database.CustomContract{
		UserID:   "user-3",
		Address:  "CCCDEFGHIJKLMNOPQRSTUVWXYZ0123456789ABCDEFGHIJKLMNOPQRST",
		Network:  database.NetworkTestnet,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("failed to create contract: %v", err)
	}

	rule, err := ruleRepo.Create(ctx, &database.ExecutionRule{
		UserID:       "user-3",
		ContractID:   contract.ID,
		RuleName:     "auto-exec",
		RuleType:     database.RuleTypeLocation,
		CenterLat:    sql.NullFloat64{Float64: 5.0, Valid: true},
		CenterLng:    sql.NullFloat64{Float64: 6.0, Valid: true},
		RadiusMeters: sql.NullFloat64{Float64: 200, Valid: true},
		FunctionName: "get_status",
		AutoExecute:  true,
		QuorumType:   database.QuorumAny,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	matcher := locationmatch.NewMatcher(ruleRepo, contractRepo, geofenceRepo)
	limiter := ratelimit.NewLimiter(historyRepo)
	ruleStore := rules.NewStore(ruleRepo, alwaysMetOracle{})
	chain := &fakeChain{}
	executor := execution.NewExecutor(contractRepo, chain, nil, "CNATIVESACXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX")
	dispatcher := NewDispatcher(matcher, queueRepo, historyRepo, contractRepo, limiter, ruleStore, ruleRepo, chain, executor)

	update, err := dispatcher.Ingest(ctx, "user-3", "GPUB3", 5.0001, 6.0001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := update.GetExecutionResults()
	if err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != rule.ID {
		t.Fatalf("expected one matched result for rule %s, got %+v", rule.ID, results)
	}
	if !results[0].Completed {
		t.Fatalf("expected get_status (read-only) auto-execute to complete immediately, got %+v", results[0])
	}
}

func TestIngestNoMatchesYieldsEmptyResult(t *testing.T) {
	if testClient == nil {
		t.Skip("GEOLINK_TEST_DATABASE_URL not configured")
	}
	ctx := context.Background()

	contractRepo := database.NewContractRepository(testClient)
	ruleRepo := database.NewRuleRepository(testClient)
	geofenceRepo := database.NewGeofenceRepository(testClient)
	queueRepo := database.NewQueueRepository(testClient)
	historyRepo := database.NewHistoryRepository(testClient)

	matcher := locationmatch.NewMatcher(ruleRepo, contractRepo, geofenceRepo)
	limiter := ratelimit.NewLimiter(historyRepo)
	ruleStore := rules.NewStore(ruleRepo, alwaysMetOracle{})
	chain := &fakeChain{}
	executor := execution.NewExecutor(contractRepo, chain, nil, "CNATIVESACXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX")
	dispatcher := NewDispatcher(matcher, queueRepo, historyRepo, contractRepo, limiter, ruleStore, ruleRepo, chain, executor)

	update, err := dispatcher.Ingest(ctx, "user-nowhere", "GPUBNOWHERE", 89.0, 179.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results, err := update.GetExecutionResults()
	if err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no matched rules, got %+v", results)
	}
}
