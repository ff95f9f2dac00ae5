package protocol

import (
	"context"
	"time"

	"github.com/azkidenz/intervia-poc/models"
)

// ConsistencyResult is the outcome of comparing ledger and graph for one
// service. Route and MaxDuration come from the graph and may only be used
// when Agrees is true.
type ConsistencyResult struct {
	ServiceID    string        `json:"serviceId"`
	Agrees       bool          `json:"agrees"`
	LedgerDigest string        `json:"ledgerDigest"`
	GraphDigest  string        `json:"graphDigest"`
	Route        []string      `json:"route"`
	MaxDuration  time.Duration `json:"-"`
}

// ConsistencyCheck proves that the ledger and the knowledge graph agree on
// the current definition of a service.
type ConsistencyCheck struct {
	ledger LedgerGateway
	graph  GraphGateway
}

func NewConsistencyCheck(ledger LedgerGateway, graph GraphGateway) *ConsistencyCheck {
	return &ConsistencyCheck{ledger: ledger, graph: graph}
}

// VerifyServiceConsistency reads both digests fresh on every call. Anything
// other than byte equality, including a malformed graph digest, is reported
// as not agreeing.
func (c *ConsistencyCheck) VerifyServiceConsistency(ctx context.Context, serviceID string) (ConsistencyResult, error) {
	res := ConsistencyResult{ServiceID: serviceID}

	ledgerDigest, err := c.ledger.ReadServiceDigest(ctx, serviceID)
	if err != nil {
		return res, gatewayError(err, CodeServiceNotFound).withService(serviceID)
	}
	res.LedgerDigest = ledgerDigest.String()

	def, err := c.graph.QueryServiceDefinition(ctx, serviceID)
	if err != nil {
		return res, gatewayError(err, CodeOffChainDataMissing).withService(serviceID)
	}
	res.GraphDigest = def.Digest
	res.Route = def.Route
	res.MaxDuration = def.MaxDuration

	graphDigest, err := models.ParseDigest(def.Digest)
	res.Agrees = err == nil && !ledgerDigest.IsZero() && graphDigest == ledgerDigest
	return res, nil
}

// require runs the check and turns disagreement into ServiceNotSynchronized.
func (c *ConsistencyCheck) require(ctx context.Context, serviceID string) (ConsistencyResult, *Error) {
	res, err := c.VerifyServiceConsistency(ctx, serviceID)
	if err != nil {
		return res, toError(err)
	}
	if !res.Agrees {
		return res, newError(CodeServiceNotSynchronized, nil).withService(serviceID)
	}
	return res, nil
}
