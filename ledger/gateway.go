package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/protocol"
)

// Gateway exposes the ledger through protocol.LedgerGateway. Issuer signs
// issuances; Validator signs activations and expiries.
type Gateway struct {
	ledger    *Ledger
	issuer    string
	validator string
}

var _ protocol.LedgerGateway = (*Gateway)(nil)

func NewGateway(l *Ledger, issuer, validator string) *Gateway {
	return &Gateway{ledger: l, issuer: issuer, validator: validator}
}

func (g *Gateway) ReadTicketRegistryEntry(ctx context.Context, ticketID string) (models.TicketRef, error) {
	if err := ctx.Err(); err != nil {
		return models.TicketRef{}, unavailable(err)
	}
	t, err := g.ledger.Ticket(ticketID)
	if err != nil {
		return models.TicketRef{}, translate(err)
	}
	return models.TicketRef{TicketID: t.ID, Address: t.Address}, nil
}

func (g *Gateway) ReadTicketState(ctx context.Context, ref models.TicketRef) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, unavailable(err)
	}
	t, err := g.ledger.Ticket(ref.TicketID)
	if err != nil {
		return models.Ticket{}, translate(err)
	}
	if ref.Address != "" && t.Address != ref.Address {
		return models.Ticket{}, fmt.Errorf("%w: no ticket at %s", protocol.ErrNotFound, ref.Address)
	}
	return t, nil
}

func (g *Gateway) WriteIssueTicket(ctx context.Context, req models.IssueRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable(err)
	}
	t, err := g.ledger.IssueTicket(g.issuer, req)
	if err != nil {
		return "", translate(err)
	}
	return t.ID, nil
}

func (g *Gateway) WriteActivate(ctx context.Context, ref models.TicketRef, stationID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	_, err := g.ledger.Activate(g.validator, ref.TicketID, stationID)
	return translate(err)
}

func (g *Gateway) WriteForceExpire(ctx context.Context, ref models.TicketRef) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	_, err := g.ledger.ForceExpire(g.validator, ref.TicketID)
	return translate(err)
}

func (g *Gateway) ReadServiceDigest(ctx context.Context, serviceID string) (models.Digest, error) {
	if err := ctx.Err(); err != nil {
		return models.Digest{}, unavailable(err)
	}
	svc, err := g.ledger.Service(serviceID)
	if err != nil {
		return models.Digest{}, translate(err)
	}
	return svc.Digest, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", protocol.ErrUnavailable, err)
}

// translate maps ledger errors onto the gateway sentinels. Storage failures
// surface as unavailability.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", protocol.ErrNotFound, err)
	case errors.Is(err, ErrStateConflict):
		return fmt.Errorf("%w: %w", protocol.ErrStateConflict, err)
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrExists):
		return err
	default:
		return unavailable(err)
	}
}
