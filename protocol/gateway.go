package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/azkidenz/intervia-poc/models"
)

// Sentinel errors returned by gateway implementations. Implementations wrap
// them with context; the protocol layer classifies with errors.Is.
var (
	// ErrNotFound means the record is absent from the store that was asked.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the store could not be reached or timed out.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrStateConflict means the ledger rejected a write because the ticket
	// is no longer in the state the write requires.
	ErrStateConflict = errors.New("ledger state conflict")
)

// LedgerGateway is typed access to the authoritative ledger.
type LedgerGateway interface {
	ReadTicketRegistryEntry(ctx context.Context, ticketID string) (models.TicketRef, error)
	ReadTicketState(ctx context.Context, ref models.TicketRef) (models.Ticket, error)
	// WriteIssueTicket returns once the issuance is final.
	WriteIssueTicket(ctx context.Context, req models.IssueRequest) (string, error)
	WriteActivate(ctx context.Context, ref models.TicketRef, stationID string) error
	WriteForceExpire(ctx context.Context, ref models.TicketRef) error
	ReadServiceDigest(ctx context.Context, serviceID string) (models.Digest, error)
}

// GraphGateway is typed access to the knowledge graph. Nothing it returns is
// trusted until ConsistencyCheck has compared it with the ledger.
type GraphGateway interface {
	QueryServiceDefinition(ctx context.Context, serviceID string) (models.ServiceDefinition, error)
	QueryServiceOwner(ctx context.Context, serviceID string) (string, error)
	// QueryStationProviders lists the providers owning a service whose
	// route contains stationID.
	QueryStationProviders(ctx context.Context, stationID string) ([]string, error)
	// QueryAgreementExists reports whether from has a permanent agreement
	// with to, or a temporal one active at the given instant.
	QueryAgreementExists(ctx context.Context, from, to string, at time.Time) (bool, error)
	InsertTicketRecord(ctx context.Context, rec models.TicketRecord) error
}
