package network_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azkidenz/intervia-poc/db"
	"github.com/azkidenz/intervia-poc/graph"
	"github.com/azkidenz/intervia-poc/ledger"
	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/network"
	"github.com/azkidenz/intervia-poc/protocol"
	"github.com/azkidenz/intervia-poc/repository"
)

func setup(t *testing.T) (*ledger.Ledger, *graph.SQLiteStore) {
	t.Helper()
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	led, err := ledger.NewLedger(repository.NewLedgerRepository(ldb), nil)
	require.NoError(t, err)

	store, err := graph.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return led, store
}

func TestLoad_ReferenceNetwork(t *testing.T) {
	def, err := network.Load(filepath.Join("..", "config", "network.yaml"))
	require.NoError(t, err)
	assert.Len(t, def.Providers, 4)
	assert.Len(t, def.Stops, 18)
	assert.Len(t, def.Services, 6)
	require.Len(t, def.Agreements, 1)
	assert.Equal(t, "T1", def.Agreements[0].From)
	assert.False(t, def.Agreements[0].Temporal())
}

func TestParse_RejectsBrokenReferences(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown owner", `
providers: [{id: T1}]
stops: [S1]
services: [{id: L1, owner: T9, max_duration_minutes: 5, route: [S1]}]`},
		{"unknown stop", `
providers: [{id: T1}]
stops: [S1]
services: [{id: L1, owner: T1, max_duration_minutes: 5, route: [S2]}]`},
		{"bad identifier", `
providers: [{id: "T 1"}]`},
		{"self agreement", `
providers: [{id: T1}]
agreements: [{from: T1, to: T1}]`},
		{"no duration", `
providers: [{id: T1}]
stops: [S1]
services: [{id: L1, owner: T1, route: [S1]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := network.Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_TemporalAgreement(t *testing.T) {
	def, err := network.Parse([]byte(`
providers: [{id: T1}, {id: T2}]
agreements:
  - from: T1
    to: T2
    valid_from: 2025-01-01T00:00:00Z
    valid_until: 2025-12-31T23:59:59Z
`))
	require.NoError(t, err)
	require.Len(t, def.Agreements, 1)
	a := def.Agreements[0]
	assert.True(t, a.Temporal())
	assert.True(t, a.ActiveAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, a.ActiveAt(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestSeed_StoresAgree(t *testing.T) {
	led, store := setup(t)
	ctx := context.Background()
	def, err := network.Load(filepath.Join("..", "config", "network.yaml"))
	require.NoError(t, err)

	require.NoError(t, network.Seed(ctx, def, led, store))

	check := protocol.NewConsistencyCheck(ledger.NewGateway(led, "issuer", "validator"), store)
	for _, svc := range def.Services {
		res, err := check.VerifyServiceConsistency(ctx, svc.ID)
		require.NoError(t, err)
		assert.True(t, res.Agrees, svc.ID)
	}

	// Seeding twice leaves the ledger untouched and the stores in agreement.
	head := led.Head()
	require.NoError(t, network.Seed(ctx, def, led, store))
	assert.Equal(t, head.Height, led.Head().Height)
}

func TestSync_RepairsDivergentDigest(t *testing.T) {
	led, store := setup(t)
	ctx := context.Background()
	def, err := network.Load(filepath.Join("..", "config", "network.yaml"))
	require.NoError(t, err)
	require.NoError(t, network.Seed(ctx, def, led, store))

	require.NoError(t, store.SetRawDigest(ctx, "L1E", "0xdeadbeef"))
	check := protocol.NewConsistencyCheck(ledger.NewGateway(led, "issuer", "validator"), store)
	res, err := check.VerifyServiceConsistency(ctx, "L1E")
	require.NoError(t, err)
	assert.False(t, res.Agrees)

	n, err := network.Sync(ctx, led, store)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	res, err = check.VerifyServiceConsistency(ctx, "L1E")
	require.NoError(t, err)
	assert.True(t, res.Agrees)
}

func TestSeed_RefusesEditedRoute(t *testing.T) {
	led, store := setup(t)
	ctx := context.Background()
	def, err := network.Load(filepath.Join("..", "config", "network.yaml"))
	require.NoError(t, err)
	require.NoError(t, network.Seed(ctx, def, led, store))

	for i := range def.Services {
		if def.Services[i].ID == "L1E" {
			def.Services[i].Route = append(def.Services[i].Route, "S5")
		}
	}
	err = network.Seed(ctx, def, led, store)
	require.ErrorIs(t, err, network.ErrDefinitionMismatch)

	graphDef, err := store.QueryServiceDefinition(ctx, "L1E")
	require.NoError(t, err)
	assert.NotContains(t, graphDef.Route, "S5")

	lc := protocol.NewLifecycle(ledger.NewGateway(led, "issuer", "validator"), store)
	_, err = lc.Issue(ctx, models.IssueRequest{
		Customer: "0xb0b", ServiceID: "L1E", Origin: "S13", Destination: "S5", Type: "single",
	})
	pe, ok := protocol.AsError(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, protocol.CodeStopNotOnRoute, pe.Code)

	res, err := lc.Issue(ctx, models.IssueRequest{
		Customer: "0xb0b", ServiceID: "L1E", Origin: "S13", Destination: "S18", Type: "single",
	})
	require.NoError(t, err)
	_, err = lc.Activate(ctx, res.TicketID, "0xb0b", "S5")
	pe, ok = protocol.AsError(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, protocol.CodeStationNotAuthorized, pe.Code)
}

func TestSeed_ReportsTruncatedRoute(t *testing.T) {
	led, store := setup(t)
	ctx := context.Background()
	def, err := network.Load(filepath.Join("..", "config", "network.yaml"))
	require.NoError(t, err)

	require.NoError(t, led.RegisterProvider(def.Admin, models.FareProvider{ID: "T1", Address: "0x06"}))
	_, err = led.CreateService(def.Admin, "L1E", "T1", 30*time.Minute)
	require.NoError(t, err)
	_, err = led.AddPlannedStop("T1", "L1E", "S13")
	require.NoError(t, err)

	err = network.Seed(ctx, def, led, store)
	require.ErrorIs(t, err, network.ErrDefinitionMismatch)
	assert.ErrorContains(t, err, "incomplete")

	_, err = store.QueryServiceDefinition(ctx, "L1E")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestSeed_RefusesChangedDuration(t *testing.T) {
	led, store := setup(t)
	ctx := context.Background()
	def, err := network.Load(filepath.Join("..", "config", "network.yaml"))
	require.NoError(t, err)
	require.NoError(t, network.Seed(ctx, def, led, store))

	def.Services[0].MaxDurationMinutes++
	assert.ErrorIs(t, network.Seed(ctx, def, led, store), network.ErrDefinitionMismatch)
}
