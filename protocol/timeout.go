package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/azkidenz/intervia-poc/models"
)

// WithLedgerTimeout bounds every ledger call by d. A call that runs out of
// time fails with ErrUnavailable.
func WithLedgerTimeout(l LedgerGateway, d time.Duration) LedgerGateway {
	if d <= 0 {
		return l
	}
	return &timedLedger{next: l, timeout: d}
}

// WithGraphTimeout bounds every graph call by d.
func WithGraphTimeout(g GraphGateway, d time.Duration) GraphGateway {
	if d <= 0 {
		return g
	}
	return &timedGraph{next: g, timeout: d}
}

func timeoutErr(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

type timedLedger struct {
	next    LedgerGateway
	timeout time.Duration
}

func (t *timedLedger) ReadTicketRegistryEntry(ctx context.Context, ticketID string) (models.TicketRef, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	ref, err := t.next.ReadTicketRegistryEntry(ctx, ticketID)
	return ref, timeoutErr(err)
}

func (t *timedLedger) ReadTicketState(ctx context.Context, ref models.TicketRef) (models.Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	ticket, err := t.next.ReadTicketState(ctx, ref)
	return ticket, timeoutErr(err)
}

func (t *timedLedger) WriteIssueTicket(ctx context.Context, req models.IssueRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	id, err := t.next.WriteIssueTicket(ctx, req)
	return id, timeoutErr(err)
}

func (t *timedLedger) WriteActivate(ctx context.Context, ref models.TicketRef, stationID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return timeoutErr(t.next.WriteActivate(ctx, ref, stationID))
}

func (t *timedLedger) WriteForceExpire(ctx context.Context, ref models.TicketRef) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return timeoutErr(t.next.WriteForceExpire(ctx, ref))
}

func (t *timedLedger) ReadServiceDigest(ctx context.Context, serviceID string) (models.Digest, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	d, err := t.next.ReadServiceDigest(ctx, serviceID)
	return d, timeoutErr(err)
}

type timedGraph struct {
	next    GraphGateway
	timeout time.Duration
}

func (t *timedGraph) QueryServiceDefinition(ctx context.Context, serviceID string) (models.ServiceDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	def, err := t.next.QueryServiceDefinition(ctx, serviceID)
	return def, timeoutErr(err)
}

func (t *timedGraph) QueryServiceOwner(ctx context.Context, serviceID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	owner, err := t.next.QueryServiceOwner(ctx, serviceID)
	return owner, timeoutErr(err)
}

func (t *timedGraph) QueryStationProviders(ctx context.Context, stationID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	providers, err := t.next.QueryStationProviders(ctx, stationID)
	return providers, timeoutErr(err)
}

func (t *timedGraph) QueryAgreementExists(ctx context.Context, from, to string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	ok, err := t.next.QueryAgreementExists(ctx, from, to, at)
	return ok, timeoutErr(err)
}

func (t *timedGraph) InsertTicketRecord(ctx context.Context, rec models.TicketRecord) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return timeoutErr(t.next.InsertTicketRecord(ctx, rec))
}
