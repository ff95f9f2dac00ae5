package protocol_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/protocol"
)

const (
	bob   = "0x00000000000000000000000000000000000000B0"
	alice = "0x00000000000000000000000000000000000000A1"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func digestOf(serviceID string) models.Digest {
	var d models.Digest
	copy(d[:], "digest:"+serviceID)
	return d
}

// fakeLedger keeps tickets and service digests in memory and enforces the
// same state transitions as the real ledger.
type fakeLedger struct {
	mu      sync.Mutex
	now     func() time.Time
	digests map[string]models.Digest
	tickets map[string]*models.Ticket
	seq     int

	readErr     error
	digestErr   error
	issueErr    error
	activateErr error
	expireErr   error

	// onActivate runs before the state check of WriteActivate.
	onActivate func(id string)

	issueWrites    int
	activateWrites int
	expireWrites   int
}

func newFakeLedger(now func() time.Time) *fakeLedger {
	return &fakeLedger{
		now:     now,
		digests: map[string]models.Digest{},
		tickets: map[string]*models.Ticket{},
	}
}

func (f *fakeLedger) ReadTicketRegistryEntry(_ context.Context, ticketID string) (models.TicketRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return models.TicketRef{}, f.readErr
	}
	t, ok := f.tickets[ticketID]
	if !ok {
		return models.TicketRef{}, fmt.Errorf("ticket %s: %w", ticketID, protocol.ErrNotFound)
	}
	return models.TicketRef{TicketID: t.ID, Address: t.Address}, nil
}

func (f *fakeLedger) ReadTicketState(_ context.Context, ref models.TicketRef) (models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return models.Ticket{}, f.readErr
	}
	t, ok := f.tickets[ref.TicketID]
	if !ok {
		return models.Ticket{}, protocol.ErrNotFound
	}
	return *t, nil
}

func (f *fakeLedger) WriteIssueTicket(_ context.Context, req models.IssueRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return "", f.issueErr
	}
	f.seq++
	f.issueWrites++
	id := fmt.Sprintf("tk%03d", f.seq)
	f.tickets[id] = &models.Ticket{
		ID:          id,
		Address:     "0xticket" + id,
		Owner:       req.Customer,
		ServiceID:   req.ServiceID,
		Origin:      req.Origin,
		Destination: req.Destination,
		Type:        req.Type,
		State:       models.StateIssued,
	}
	return id, nil
}

func (f *fakeLedger) WriteActivate(_ context.Context, ref models.TicketRef, stationID string) error {
	if f.onActivate != nil {
		f.onActivate(ref.TicketID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	t, ok := f.tickets[ref.TicketID]
	if !ok {
		return protocol.ErrNotFound
	}
	if t.State != models.StateIssued {
		return protocol.ErrStateConflict
	}
	f.activateWrites++
	t.State = models.StateActivated
	t.ActivatedAt = f.now()
	t.ActivatedStation = stationID
	return nil
}

func (f *fakeLedger) WriteForceExpire(_ context.Context, ref models.TicketRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expireErr != nil {
		return f.expireErr
	}
	t, ok := f.tickets[ref.TicketID]
	if !ok {
		return protocol.ErrNotFound
	}
	if t.State != models.StateActivated {
		return protocol.ErrStateConflict
	}
	f.expireWrites++
	t.State = models.StateExpired
	return nil
}

func (f *fakeLedger) ReadServiceDigest(_ context.Context, serviceID string) (models.Digest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.digestErr != nil {
		return models.Digest{}, f.digestErr
	}
	d, ok := f.digests[serviceID]
	if !ok {
		return models.Digest{}, protocol.ErrNotFound
	}
	return d, nil
}

func (f *fakeLedger) state(t *testing.T, id string) models.TicketState {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[id]
	if !ok {
		t.Fatalf("ticket %s not on the fake ledger", id)
	}
	return ticket.State
}

func (f *fakeLedger) setState(id string, s models.TicketState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[id].State = s
}

// fakeGraph answers graph queries from plain maps and counts every read.
type fakeGraph struct {
	mu         sync.Mutex
	services   map[string]models.ServiceDefinition
	owners     map[string]string
	agreements []models.Agreement
	records    []models.TicketRecord

	defErr       error
	ownerErr     error
	providersErr error
	agreementErr error
	insertErr    error

	reads int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		services: map[string]models.ServiceDefinition{},
		owners:   map[string]string{},
	}
}

func (g *fakeGraph) QueryServiceDefinition(_ context.Context, serviceID string) (models.ServiceDefinition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	if g.defErr != nil {
		return models.ServiceDefinition{}, g.defErr
	}
	def, ok := g.services[serviceID]
	if !ok {
		return def, protocol.ErrNotFound
	}
	return def, nil
}

func (g *fakeGraph) QueryServiceOwner(_ context.Context, serviceID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	if g.ownerErr != nil {
		return "", g.ownerErr
	}
	owner, ok := g.owners[serviceID]
	if !ok {
		return "", protocol.ErrNotFound
	}
	return owner, nil
}

func (g *fakeGraph) QueryStationProviders(_ context.Context, stationID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	if g.providersErr != nil {
		return nil, g.providersErr
	}
	var out []string
	for id, def := range g.services {
		if models.OnRoute(def.Route, stationID) {
			out = append(out, g.owners[id])
		}
	}
	return out, nil
}

func (g *fakeGraph) QueryAgreementExists(_ context.Context, from, to string, at time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	if g.agreementErr != nil {
		return false, g.agreementErr
	}
	for _, a := range g.agreements {
		if a.From == from && a.To == to && a.ActiveAt(at) {
			return true, nil
		}
	}
	return false, nil
}

func (g *fakeGraph) InsertTicketRecord(_ context.Context, rec models.TicketRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.insertErr != nil {
		return g.insertErr
	}
	g.records = append(g.records, rec)
	return nil
}

func (g *fakeGraph) readCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads
}

func (g *fakeGraph) setDigest(serviceID, digest string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	def := g.services[serviceID]
	def.Digest = digest
	g.services[serviceID] = def
}

type fixture struct {
	clock  *fakeClock
	ledger *fakeLedger
	graph  *fakeGraph
	lc     *protocol.Lifecycle
}

// newFixture loads the reference network: six services of four providers
// and one permanent agreement from T1 to T3.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	f := &fixture{
		clock:  clock,
		ledger: newFakeLedger(clock.Now),
		graph:  newFakeGraph(),
	}
	services := []struct {
		id, owner string
		minutes   int
		route     string
	}{
		{"L1E", "T1", 30, "S13 S12 S3 S1 S10 S18"},
		{"L2B", "T2", 45, "S14 S5 S15 S7 S17 S10 S1 S11"},
		{"L3M", "T3", 60, "S1 S11 S2 S3 S12 S16 S1"},
		{"L4T", "T2", 45, "S9 S6 S17 S15 S2 S11 S12"},
		{"L5R", "T1", 30, "S4 S3 S12 S6 S18"},
		{"L6F", "T4", 90, "S8 S15 S17 S7"},
	}
	for _, s := range services {
		d := digestOf(s.id)
		f.ledger.digests[s.id] = d
		f.graph.owners[s.id] = s.owner
		f.graph.services[s.id] = models.ServiceDefinition{
			ID:          s.id,
			Digest:      d.String(),
			MaxDuration: time.Duration(s.minutes) * time.Minute,
			Route:       strings.Fields(s.route),
		}
	}
	f.graph.agreements = []models.Agreement{{From: "T1", To: "T3"}}
	f.lc = protocol.NewLifecycle(f.ledger, f.graph, protocol.WithClock(clock.Now))
	return f
}

// issue creates a ticket for owner on serviceID between the first and last
// stop of its route.
func (f *fixture) issue(t *testing.T, owner, serviceID string) string {
	t.Helper()
	route := f.graph.services[serviceID].Route
	res, err := f.lc.Issue(context.Background(), models.IssueRequest{
		Customer:    owner,
		ServiceID:   serviceID,
		Origin:      route[0],
		Destination: route[len(route)-1],
		Type:        "single",
	})
	if err != nil {
		t.Fatalf("issue on %s: %v", serviceID, err)
	}
	return res.TicketID
}

func requireCode(t *testing.T, err error, code protocol.Code) *protocol.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", code)
	}
	pe, ok := protocol.AsError(err)
	if !ok {
		t.Fatalf("expected protocol error %s, got %T: %v", code, err, err)
	}
	if pe.Code != code {
		t.Fatalf("expected %s, got %s (%v)", code, pe.Code, err)
	}
	return pe
}
