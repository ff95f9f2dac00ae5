package protocol_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/protocol"
)

// stalledLedger never answers digest reads before the context ends.
type stalledLedger struct {
	*fakeLedger
}

func (s stalledLedger) ReadServiceDigest(ctx context.Context, _ string) (models.Digest, error) {
	<-ctx.Done()
	return models.Digest{}, ctx.Err()
}

type stalledGraph struct {
	*fakeGraph
}

func (s stalledGraph) QueryServiceDefinition(ctx context.Context, _ string) (models.ServiceDefinition, error) {
	<-ctx.Done()
	return models.ServiceDefinition{}, ctx.Err()
}

func TestWithLedgerTimeout(t *testing.T) {
	f := newFixture(t)
	l := protocol.WithLedgerTimeout(stalledLedger{f.ledger}, 20*time.Millisecond)

	_, err := l.ReadServiceDigest(context.Background(), "L1E")
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Calls that finish in time pass through untouched.
	_, err = l.ReadTicketRegistryEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	assert.False(t, errors.Is(err, protocol.ErrUnavailable))
}

func TestWithGraphTimeout_SurfacesAsGatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	g := protocol.WithGraphTimeout(stalledGraph{f.graph}, 20*time.Millisecond)
	c := protocol.NewConsistencyCheck(f.ledger, g)

	_, err := c.VerifyServiceConsistency(context.Background(), "L1E")
	requireCode(t, err, protocol.CodeGatewayUnavailable)
}

func TestTimeoutDisabled(t *testing.T) {
	f := newFixture(t)
	assert.Same(t, f.ledger, protocol.WithLedgerTimeout(f.ledger, 0))
	assert.Same(t, f.graph, protocol.WithGraphTimeout(f.graph, 0))
}
