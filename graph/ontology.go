// Package graph implements the knowledge graph gateway: a SPARQL client for
// a remote triplestore and an embedded SQLite triple store with the same
// ontology.
package graph

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/azkidenz/intervia-poc/models"
)

// Namespace of the transport network ontology.
const Namespace = "https://intervia.space/intervia#"

// Predicates and classes, as local names in Namespace.
const (
	predType                 = "type"
	predHasOwner             = "hasOwner"
	predFollowsRoute         = "followsRoute"
	predMaxDurationMinutes   = "maxDurationMinutes"
	predMerkleHash           = "merkleHash"
	predHasAgreementWith     = "hasAgreementWith"
	predHasTemporalAgreement = "hasTemporalAgreement"
	predWithTSP              = "withTSP"
	predValidFrom            = "validFrom"
	predValidUntil           = "validUntil"
	predAddress              = "address"
	predOnChainID            = "onChainID"
	predForService           = "forService"
	predTicketType           = "ticketType"

	classTicket   = "Ticket"
	classService  = "Service"
	classProvider = "TransportServiceProvider"
	classStop     = "Stop"
)

// ErrInvalidIdentifier is returned when an identifier cannot be used as a
// local name in the ontology.
var ErrInvalidIdentifier = errors.New("graph: invalid identifier")

var localName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidIdentifier reports whether id can be interpolated as ex:<id>.
func ValidIdentifier(id string) bool {
	return localName.MatchString(id)
}

// Admin is the write surface used by seeding and digest synchronization.
// The ticket protocol never calls it.
type Admin interface {
	PutProvider(ctx context.Context, p models.FareProvider) error
	PutStop(ctx context.Context, stopID string) error
	PutService(ctx context.Context, svc models.Service) error
	PutAgreement(ctx context.Context, a models.Agreement) error
	SetServiceDigest(ctx context.Context, serviceID string, d models.Digest) error
}

// ticketSubject is the graph node name of a ticket mirror record.
func ticketSubject(ticketID string) string {
	return "TICKET_" + strings.TrimPrefix(strings.TrimPrefix(ticketID, "0x"), "0X")
}

// agreementActive applies the validity window of a temporal agreement.
// Unparseable bounds never grant validity.
func agreementActive(from, until string, at time.Time) bool {
	a := models.Agreement{}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return false
		}
		a.ValidFrom = t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return false
		}
		a.ValidUntil = t
	}
	return a.ActiveAt(at)
}

// singleDigest returns the only digest value, or "" when the graph holds
// none or several.
func singleDigest(values []string) string {
	distinct := ""
	for _, v := range values {
		if distinct != "" && v != distinct {
			return ""
		}
		distinct = v
	}
	return distinct
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
