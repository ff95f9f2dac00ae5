package graph

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/protocol"
)

type fakeTriplestore struct {
	mu      sync.Mutex
	queries []string
	updates []string
	respond func(query string) (int, string)
}

func (f *fakeTriplestore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/intervia/query":
		if r.Header.Get("Content-Type") != "application/sparql-query" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		f.queries = append(f.queries, string(body))
		status, out := f.respond(string(body))
		w.Header().Set("Content-Type", "application/sparql-results+json")
		w.WriteHeader(status)
		io.WriteString(w, out)
	case "/intervia/update":
		f.updates = append(f.updates, string(body))
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newSPARQL(t *testing.T, respond func(string) (int, string)) (*SPARQLClient, *fakeTriplestore) {
	t.Helper()
	store := &fakeTriplestore{respond: respond}
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)
	return NewSPARQLClient(srv.URL, "intervia", "admin", "secret", srv.Client()), store
}

const l1eRows = `{"head":{"vars":["merkleHash","duration","routeStop"]},"results":{"bindings":[
 {"merkleHash":{"type":"literal","value":"0x1111111111111111111111111111111111111111111111111111111111111111"},"duration":{"type":"literal","value":"30"},"routeStop":{"type":"uri","value":"https://intervia.space/intervia#S13"}},
 {"merkleHash":{"type":"literal","value":"0x1111111111111111111111111111111111111111111111111111111111111111"},"duration":{"type":"literal","value":"30"},"routeStop":{"type":"uri","value":"https://intervia.space/intervia#S12"}},
 {"merkleHash":{"type":"literal","value":"0x1111111111111111111111111111111111111111111111111111111111111111"},"duration":{"type":"literal","value":"30"},"routeStop":{"type":"uri","value":"https://intervia.space/intervia#S18"}}
]}}`

func TestSPARQL_QueryServiceDefinition(t *testing.T) {
	c, store := newSPARQL(t, func(q string) (int, string) {
		if strings.Contains(q, "ex:L1E") {
			return http.StatusOK, l1eRows
		}
		return http.StatusOK, `{"head":{"vars":[]},"results":{"bindings":[]}}`
	})

	def, err := c.QueryServiceDefinition(context.Background(), "L1E")
	require.NoError(t, err)
	assert.Equal(t, []string{"S13", "S12", "S18"}, def.Route)
	assert.Equal(t, 30*time.Minute, def.MaxDuration)
	assert.Equal(t, "0x1111111111111111111111111111111111111111111111111111111111111111", def.Digest)
	require.Len(t, store.queries, 1)
	assert.Contains(t, store.queries[0], "PREFIX ex: <https://intervia.space/intervia#>")

	_, err = c.QueryServiceDefinition(context.Background(), "L9Z")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestSPARQL_RejectsInjectedIdentifiers(t *testing.T) {
	c, store := newSPARQL(t, func(string) (int, string) { return http.StatusOK, l1eRows })

	_, err := c.QueryServiceDefinition(context.Background(), "L1E . } DROP ALL #")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	providers, err := c.QueryStationProviders(context.Background(), "S1>")
	require.NoError(t, err)
	assert.Empty(t, providers)
	assert.Empty(t, store.queries, "nothing reaches the store")
}

func TestSPARQL_ServerErrorIsUnavailable(t *testing.T) {
	c, _ := newSPARQL(t, func(string) (int, string) { return http.StatusInternalServerError, "boom" })

	_, err := c.QueryServiceOwner(context.Background(), "L1E")
	assert.ErrorIs(t, err, protocol.ErrUnavailable)
}

func TestSPARQL_AgreementKinds(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, _ := newSPARQL(t, func(q string) (int, string) {
		switch {
		case strings.Contains(q, "ex:T1 ex:hasAgreementWith ex:T3"):
			return http.StatusOK, `{"results":{"bindings":[{"kind":{"type":"literal","value":"permanent"}}]}}`
		case strings.Contains(q, "ex:T2 ex:hasAgreementWith ex:T4"):
			return http.StatusOK, `{"results":{"bindings":[{"kind":{"type":"literal","value":"temporal"},"until":{"type":"literal","value":"2025-05-01T00:00:00Z"}}]}}`
		case strings.Contains(q, "ex:T4 ex:hasAgreementWith ex:T3"):
			return http.StatusOK, `{"results":{"bindings":[{"kind":{"type":"literal","value":"temporal"},"from":{"type":"literal","value":"2025-01-01T00:00:00Z"}}]}}`
		}
		return http.StatusOK, `{"results":{"bindings":[]}}`
	})
	ctx := context.Background()

	ok, err := c.QueryAgreementExists(ctx, "T1", "T3", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.QueryAgreementExists(ctx, "T2", "T4", at)
	require.NoError(t, err)
	assert.False(t, ok, "lapsed temporal agreement")

	ok, err = c.QueryAgreementExists(ctx, "T4", "T3", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.QueryAgreementExists(ctx, "T1", "T2", at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSPARQL_InsertTicketRecordEscapesLiterals(t *testing.T) {
	c, store := newSPARQL(t, nil)

	err := c.InsertTicketRecord(context.Background(), models.TicketRecord{
		TicketID:  "0xabc123",
		Owner:     `0xB0B" . ex:evil ex:owns "x`,
		ServiceID: "L1E",
		Type:      "r",
	})
	require.NoError(t, err)
	require.Len(t, store.updates, 1)
	u := store.updates[0]
	assert.Contains(t, u, "ex:TICKET_abc123 a ex:Ticket")
	assert.Contains(t, u, `ex:onChainID "0xabc123"^^xsd:string`)
	assert.Contains(t, u, `"0xB0B\" . ex:evil ex:owns \"x"^^xsd:string`)
	assert.Contains(t, u, "ex:forService ex:L1E")
}

func TestSPARQL_SetServiceDigest(t *testing.T) {
	c, store := newSPARQL(t, nil)

	var d models.Digest
	d[0] = 0xab
	require.NoError(t, c.SetServiceDigest(context.Background(), "L1E", d))
	require.Len(t, store.updates, 1)
	assert.Contains(t, store.updates[0], "DELETE { ex:L1E ex:merkleHash ?old . }")
	assert.Contains(t, store.updates[0], d.String())
}
