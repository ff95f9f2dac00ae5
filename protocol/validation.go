package protocol

import (
	"context"
	"time"

	"github.com/azkidenz/intervia-poc/models"
)

// ValidationEngine decides whether a ticket may be used at a station.
type ValidationEngine struct {
	graph GraphGateway
	now   func() time.Time
}

func NewValidationEngine(graph GraphGateway, now func() time.Time) *ValidationEngine {
	if now == nil {
		now = time.Now
	}
	return &ValidationEngine{graph: graph, now: now}
}

// IsValidAtStation approves stationID when it is on route, or when the
// provider owning serviceID has an agreement, in either direction, with a
// different provider whose services stop at stationID. Graph failures are
// returned, never folded into false.
func (v *ValidationEngine) IsValidAtStation(ctx context.Context, serviceID string, route []string, stationID string) (bool, error) {
	if models.OnRoute(route, stationID) {
		return true, nil
	}

	ticketProvider, err := v.graph.QueryServiceOwner(ctx, serviceID)
	if err != nil {
		return false, gatewayError(err, CodeOffChainDataMissing).withService(serviceID)
	}
	stationProviders, err := v.graph.QueryStationProviders(ctx, stationID)
	if err != nil {
		return false, gatewayError(err, "").withStation(stationID)
	}

	at := v.now()
	seen := make(map[string]struct{}, len(stationProviders))
	for _, p := range stationProviders {
		if p == ticketProvider {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}

		ok, err := v.agreementBetween(ctx, ticketProvider, p, at)
		if err != nil {
			return false, gatewayError(err, "").withService(serviceID).withStation(stationID)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (v *ValidationEngine) agreementBetween(ctx context.Context, a, b string, at time.Time) (bool, error) {
	ok, err := v.graph.QueryAgreementExists(ctx, a, b, at)
	if err != nil || ok {
		return ok, err
	}
	return v.graph.QueryAgreementExists(ctx, b, a, at)
}
