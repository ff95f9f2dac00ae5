package protocol

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/azkidenz/intervia-poc/logger"
	"github.com/azkidenz/intervia-poc/models"
)

// MirrorStatus reports the best-effort graph write that follows a committed
// issuance. A failed mirror never fails the issuance.
type MirrorStatus struct {
	Synchronized bool
	Err          error
}

type IssueResult struct {
	TicketID  string
	ServiceID string
	Mirror    MirrorStatus
}

type ActivateResult struct {
	TicketID  string
	ServiceID string
	StationID string
}

type InspectResult struct {
	TicketID  string
	ServiceID string
	Remaining time.Duration
}

// Lifecycle drives tickets through Issued, Activated and Expired. It holds no
// mutable state: every decision is made on fresh reads of the two stores.
type Lifecycle struct {
	ledger      LedgerGateway
	graph       GraphGateway
	consistency *ConsistencyCheck
	validation  *ValidationEngine
	now         func() time.Time
}

type Option func(*Lifecycle)

// WithClock replaces time.Now, used for expiry and temporal agreements.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

func NewLifecycle(ledger LedgerGateway, graph GraphGateway, opts ...Option) *Lifecycle {
	l := &Lifecycle{ledger: ledger, graph: graph, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.consistency = NewConsistencyCheck(ledger, graph)
	l.validation = NewValidationEngine(graph, l.now)
	return l
}

// Consistency exposes the gate for operator tooling.
func (l *Lifecycle) Consistency() *ConsistencyCheck {
	return l.consistency
}

// Issue creates a ticket on the ledger and mirrors it into the graph.
func (l *Lifecycle) Issue(ctx context.Context, req models.IssueRequest) (IssueResult, error) {
	res := IssueResult{ServiceID: req.ServiceID}
	if req.Customer == "" || req.ServiceID == "" || req.Origin == "" || req.Destination == "" || req.Type == "" {
		return res, newError(CodeInvalidRequest, errors.New("customer, service, origin, destination and ticket type are required")).withService(req.ServiceID)
	}

	svc, perr := l.consistency.require(ctx, req.ServiceID)
	if perr != nil {
		return res, perr
	}
	if !models.OnRoute(svc.Route, req.Origin) {
		return res, newError(CodeStopNotOnRoute, nil).withService(req.ServiceID).withStation(req.Origin)
	}
	if !models.OnRoute(svc.Route, req.Destination) {
		return res, newError(CodeStopNotOnRoute, nil).withService(req.ServiceID).withStation(req.Destination)
	}

	ticketID, err := l.ledger.WriteIssueTicket(ctx, req)
	if err != nil {
		return res, writeError(err, "").withService(req.ServiceID)
	}
	res.TicketID = ticketID

	// The ledger write is final from here on.
	err = l.graph.InsertTicketRecord(ctx, models.TicketRecord{
		TicketID:  ticketID,
		Owner:     req.Customer,
		ServiceID: req.ServiceID,
		Type:      req.Type,
	})
	if err != nil {
		logger.Logger.Warn("Ticket mirror write failed",
			zap.String("ticket_id", ticketID), zap.String("service_id", req.ServiceID), zap.Error(err))
		res.Mirror = MirrorStatus{Err: err}
		return res, nil
	}
	res.Mirror = MirrorStatus{Synchronized: true}
	return res, nil
}

// Activate moves an Issued ticket to Activated at currentStationID.
func (l *Lifecycle) Activate(ctx context.Context, ticketID, customer, stationID string) (ActivateResult, error) {
	res := ActivateResult{TicketID: ticketID, StationID: stationID}

	ref, ticket, perr := l.loadTicket(ctx, ticketID, customer)
	if perr != nil {
		return res, perr.withStation(stationID)
	}
	res.ServiceID = ticket.ServiceID

	if ticket.State != models.StateIssued {
		return res, newError(CodeAlreadyActivatedOrExpired, nil).
			withTicket(ticketID).withService(ticket.ServiceID)
	}

	svc, perr := l.consistency.require(ctx, ticket.ServiceID)
	if perr != nil {
		return res, perr.withTicket(ticketID).withStation(stationID)
	}
	if perr := l.authorize(ctx, ticket, svc.Route, stationID); perr != nil {
		return res, perr
	}

	// A concurrent activation may have committed since the read above; the
	// ledger rejects ours and the rejection is a state conflict.
	if err := l.ledger.WriteActivate(ctx, ref, stationID); err != nil {
		return res, writeError(err, CodeAlreadyActivatedOrExpired).withTicket(ticketID).withService(ticket.ServiceID).withStation(stationID)
	}
	return res, nil
}

// Inspect checks an Activated ticket at stationID. Expiry is detected here
// and only here: an elapsed ticket is committed as Expired on the ledger.
func (l *Lifecycle) Inspect(ctx context.Context, ticketID, customer, stationID string) (InspectResult, error) {
	res := InspectResult{TicketID: ticketID}

	ref, ticket, perr := l.loadTicket(ctx, ticketID, customer)
	if perr != nil {
		return res, perr.withStation(stationID)
	}
	res.ServiceID = ticket.ServiceID

	switch ticket.State {
	case models.StateIssued:
		return res, newError(CodeNotYetActivated, nil).withTicket(ticketID).withService(ticket.ServiceID)
	case models.StateExpired:
		return res, newError(CodeTicketExpired, nil).withTicket(ticketID).withService(ticket.ServiceID)
	}

	// The validity window comes from the graph, so it is only acted on
	// once the digests agree.
	svc, perr := l.consistency.require(ctx, ticket.ServiceID)
	if perr != nil {
		return res, perr.withTicket(ticketID).withStation(stationID)
	}

	// Activation is stamped by the ledger clock, which may run ahead of ours.
	elapsed := max(l.now().Sub(ticket.ActivatedAt), 0)
	if elapsed > svc.MaxDuration {
		return res, l.expire(ctx, ref, ticket)
	}

	if perr := l.authorize(ctx, ticket, svc.Route, stationID); perr != nil {
		return res, perr
	}
	res.Remaining = svc.MaxDuration - elapsed
	return res, nil
}

func (l *Lifecycle) expire(ctx context.Context, ref models.TicketRef, ticket models.Ticket) error {
	expired := newError(CodeTicketExpired, nil).withTicket(ref.TicketID).withService(ticket.ServiceID)

	err := l.ledger.WriteForceExpire(ctx, ref)
	switch {
	case err == nil:
		logger.Logger.Info("Ticket expired on inspection",
			zap.String("ticket_id", ref.TicketID), zap.String("service_id", ticket.ServiceID))
	case errors.Is(err, ErrStateConflict):
		// Another inspection committed the expiry first.
	default:
		// The ticket stays Activated on the ledger; the next inspection
		// retries the write.
		logger.Logger.Error("Force expire write failed",
			zap.String("ticket_id", ref.TicketID), zap.Error(err))
		expired.Err = err
	}
	return expired
}

func (l *Lifecycle) authorize(ctx context.Context, ticket models.Ticket, route []string, stationID string) *Error {
	ok, err := l.validation.IsValidAtStation(ctx, ticket.ServiceID, route, stationID)
	if err != nil {
		return toError(err).withTicket(ticket.ID)
	}
	if !ok {
		return newError(CodeStationNotAuthorized, nil).
			withTicket(ticket.ID).withService(ticket.ServiceID).withStation(stationID)
	}
	return nil
}

func (l *Lifecycle) loadTicket(ctx context.Context, ticketID, customer string) (models.TicketRef, models.Ticket, *Error) {
	if ticketID == "" || customer == "" {
		return models.TicketRef{}, models.Ticket{}, newError(CodeInvalidRequest, errors.New("ticket and customer are required")).withTicket(ticketID)
	}

	ref, err := l.ledger.ReadTicketRegistryEntry(ctx, ticketID)
	if err != nil {
		return ref, models.Ticket{}, gatewayError(err, CodeTicketNotFound).withTicket(ticketID)
	}
	ticket, err := l.ledger.ReadTicketState(ctx, ref)
	if err != nil {
		return ref, ticket, gatewayError(err, CodeTicketNotFound).withTicket(ticketID)
	}
	if ticket.ID == "" {
		ticket.ID = ref.TicketID
	}
	// Ledger addresses compare case-insensitively.
	if !strings.EqualFold(ticket.Owner, customer) {
		return ref, ticket, newError(CodeOwnershipMismatch, nil).withTicket(ticketID).withService(ticket.ServiceID)
	}
	return ref, ticket, nil
}
