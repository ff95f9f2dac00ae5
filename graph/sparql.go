package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/azkidenz/intervia-poc/logger"
	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/protocol"
)

const prefixes = `PREFIX ex: <` + Namespace + `>
PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>
`

// SPARQLClient talks to a triplestore exposing `<endpoint>/<database>/query`
// and `<endpoint>/<database>/update` with HTTP basic auth.
type SPARQLClient struct {
	queryURL  string
	updateURL string
	username  string
	password  string
	http      *http.Client
}

var (
	_ protocol.GraphGateway = (*SPARQLClient)(nil)
	_ Admin                 = (*SPARQLClient)(nil)
)

func NewSPARQLClient(endpoint, database, username, password string, httpClient *http.Client) *SPARQLClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimRight(endpoint, "/") + "/" + database
	return &SPARQLClient{
		queryURL:  base + "/query",
		updateURL: base + "/update",
		username:  username,
		password:  password,
		http:      httpClient,
	}
}

type binding map[string]struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sparqlResults struct {
	Boolean *bool `json:"boolean"`
	Results struct {
		Bindings []binding `json:"bindings"`
	} `json:"results"`
}

func (b binding) value(name string) string {
	return b[name].Value
}

// local strips the namespace from an IRI value.
func local(v string) string {
	if i := strings.LastIndexAny(v, "#/"); i >= 0 {
		return v[i+1:]
	}
	return v
}

func (c *SPARQLClient) QueryServiceDefinition(ctx context.Context, serviceID string) (models.ServiceDefinition, error) {
	def := models.ServiceDefinition{ID: serviceID}
	if !ValidIdentifier(serviceID) {
		return def, fmt.Errorf("%w: service %q", protocol.ErrNotFound, serviceID)
	}
	q := prefixes + fmt.Sprintf(`SELECT ?merkleHash ?duration ?routeStop
WHERE {
    ex:%[1]s ex:merkleHash ?merkleHash ;
        ex:maxDurationMinutes ?duration ;
        ex:followsRoute ?routeStop .
}`, serviceID)

	res, err := c.query(ctx, q)
	if err != nil {
		return def, err
	}
	rows := res.Results.Bindings
	if len(rows) == 0 {
		return def, fmt.Errorf("%w: off-chain data for service %s", protocol.ErrNotFound, serviceID)
	}

	var hashes []string
	minutes := -1
	for _, row := range rows {
		hashes = appendUnique(hashes, row.value("merkleHash"))
		def.Route = appendUnique(def.Route, local(row.value("routeStop")))
		if m, err := strconv.Atoi(row.value("duration")); err == nil && (minutes < 0 || m < minutes) {
			minutes = m
		}
	}
	if minutes < 0 {
		return def, fmt.Errorf("%w: service %s has no numeric duration", protocol.ErrNotFound, serviceID)
	}
	def.Digest = singleDigest(hashes)
	def.MaxDuration = time.Duration(minutes) * time.Minute
	return def, nil
}

func (c *SPARQLClient) QueryServiceOwner(ctx context.Context, serviceID string) (string, error) {
	if !ValidIdentifier(serviceID) {
		return "", fmt.Errorf("%w: service %q", protocol.ErrNotFound, serviceID)
	}
	q := prefixes + fmt.Sprintf(`SELECT ?owner WHERE { ex:%s ex:hasOwner ?owner . } LIMIT 1`, serviceID)
	res, err := c.query(ctx, q)
	if err != nil {
		return "", err
	}
	if len(res.Results.Bindings) == 0 {
		return "", fmt.Errorf("%w: owner of service %s", protocol.ErrNotFound, serviceID)
	}
	return local(res.Results.Bindings[0].value("owner")), nil
}

func (c *SPARQLClient) QueryStationProviders(ctx context.Context, stationID string) ([]string, error) {
	if !ValidIdentifier(stationID) {
		return nil, nil
	}
	q := prefixes + fmt.Sprintf(`SELECT DISTINCT ?owner
WHERE {
    ?service ex:followsRoute ex:%s ;
        ex:hasOwner ?owner .
}`, stationID)
	res, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}
	var providers []string
	for _, row := range res.Results.Bindings {
		providers = appendUnique(providers, local(row.value("owner")))
	}
	return providers, nil
}

func (c *SPARQLClient) QueryAgreementExists(ctx context.Context, from, to string, at time.Time) (bool, error) {
	if !ValidIdentifier(from) || !ValidIdentifier(to) {
		return false, nil
	}
	q := prefixes + fmt.Sprintf(`SELECT ?kind ?from ?until
WHERE {
    { ex:%[1]s ex:hasAgreementWith ex:%[2]s . BIND("permanent" AS ?kind) }
    UNION
    {
        ex:%[1]s ex:hasTemporalAgreement ?agreement .
        ?agreement ex:withTSP ex:%[2]s .
        OPTIONAL { ?agreement ex:validFrom ?from . }
        OPTIONAL { ?agreement ex:validUntil ?until . }
        BIND("temporal" AS ?kind)
    }
}`, from, to)
	res, err := c.query(ctx, q)
	if err != nil {
		return false, err
	}
	for _, row := range res.Results.Bindings {
		if row.value("kind") == "permanent" {
			return true, nil
		}
		if agreementActive(row.value("from"), row.value("until"), at) {
			return true, nil
		}
	}
	return false, nil
}

func (c *SPARQLClient) InsertTicketRecord(ctx context.Context, rec models.TicketRecord) error {
	if !ValidIdentifier(rec.ServiceID) {
		return fmt.Errorf("%w: service %q", ErrInvalidIdentifier, rec.ServiceID)
	}
	subject := ticketSubject(rec.TicketID)
	if !ValidIdentifier(subject) {
		return fmt.Errorf("%w: ticket %q", ErrInvalidIdentifier, rec.TicketID)
	}
	u := prefixes + fmt.Sprintf(`INSERT DATA {
    ex:%s a ex:%s ;
        ex:%s %s ;
        ex:%s %s ;
        ex:%s ex:%s ;
        ex:%s %s .
}`, subject, classTicket,
		predOnChainID, literal(rec.TicketID),
		predHasOwner, literal(rec.Owner),
		predForService, rec.ServiceID,
		predTicketType, literal(rec.Type))
	return c.update(ctx, u)
}

func (c *SPARQLClient) PutProvider(ctx context.Context, p models.FareProvider) error {
	if !ValidIdentifier(p.ID) {
		return fmt.Errorf("%w: provider %q", ErrInvalidIdentifier, p.ID)
	}
	return c.update(ctx, prefixes+fmt.Sprintf(`INSERT DATA { ex:%s a ex:%s ; ex:%s %s . }`,
		p.ID, classProvider, predAddress, literal(p.Address)))
}

func (c *SPARQLClient) PutStop(ctx context.Context, stopID string) error {
	if !ValidIdentifier(stopID) {
		return fmt.Errorf("%w: stop %q", ErrInvalidIdentifier, stopID)
	}
	return c.update(ctx, prefixes+fmt.Sprintf(`INSERT DATA { ex:%s a ex:%s . }`, stopID, classStop))
}

func (c *SPARQLClient) PutService(ctx context.Context, svc models.Service) error {
	if !ValidIdentifier(svc.ID) || !ValidIdentifier(svc.Owner) {
		return fmt.Errorf("%w: service %q owner %q", ErrInvalidIdentifier, svc.ID, svc.Owner)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT DATA {\n    ex:%s a ex:%s ;\n        ex:%s ex:%s ;\n        ex:%s %d",
		svc.ID, classService, predHasOwner, svc.Owner, predMaxDurationMinutes, int64(svc.MaxDuration/time.Minute))
	for _, stop := range svc.Route {
		if !ValidIdentifier(stop) {
			return fmt.Errorf("%w: stop %q", ErrInvalidIdentifier, stop)
		}
		fmt.Fprintf(&b, " ;\n        ex:%s ex:%s", predFollowsRoute, stop)
	}
	b.WriteString(" .\n}")
	return c.update(ctx, prefixes+b.String())
}

func (c *SPARQLClient) PutAgreement(ctx context.Context, a models.Agreement) error {
	if !ValidIdentifier(a.From) || !ValidIdentifier(a.To) {
		return fmt.Errorf("%w: agreement %q -> %q", ErrInvalidIdentifier, a.From, a.To)
	}
	if !a.Temporal() {
		return c.update(ctx, prefixes+fmt.Sprintf(`INSERT DATA { ex:%s ex:%s ex:%s . }`, a.From, predHasAgreementWith, a.To))
	}
	node := "AGREEMENT_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT DATA {\n    ex:%s ex:%s ex:%s .\n    ex:%s ex:%s ex:%s",
		a.From, predHasTemporalAgreement, node, node, predWithTSP, a.To)
	if !a.ValidFrom.IsZero() {
		fmt.Fprintf(&b, " ;\n        ex:%s %s", predValidFrom, dateTime(a.ValidFrom))
	}
	if !a.ValidUntil.IsZero() {
		fmt.Fprintf(&b, " ;\n        ex:%s %s", predValidUntil, dateTime(a.ValidUntil))
	}
	b.WriteString(" .\n}")
	return c.update(ctx, prefixes+b.String())
}

// SetServiceDigest replaces whatever digest the graph holds for serviceID.
func (c *SPARQLClient) SetServiceDigest(ctx context.Context, serviceID string, d models.Digest) error {
	if !ValidIdentifier(serviceID) {
		return fmt.Errorf("%w: service %q", ErrInvalidIdentifier, serviceID)
	}
	u := prefixes + fmt.Sprintf(`DELETE { ex:%[1]s ex:merkleHash ?old . }
WHERE { ex:%[1]s ex:merkleHash ?old . } ;
INSERT DATA { ex:%[1]s ex:merkleHash %[2]s . }`, serviceID, literal(d.String()))
	return c.update(ctx, u)
}

func (c *SPARQLClient) query(ctx context.Context, q string) (*sparqlResults, error) {
	body, err := c.post(ctx, c.queryURL, "application/sparql-query", "application/sparql-results+json", q)
	if err != nil {
		return nil, err
	}
	var res sparqlResults
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode query results: %w", protocol.ErrUnavailable, err)
	}
	return &res, nil
}

func (c *SPARQLClient) update(ctx context.Context, u string) error {
	_, err := c.post(ctx, c.updateURL, "application/sparql-update", "application/json", u)
	return err
}

func (c *SPARQLClient) post(ctx context.Context, url, contentType, accept, payload string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Logger.Error("Graph request failed", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", protocol.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", protocol.ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Logger.Error("Graph request rejected",
			zap.String("url", url), zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("%w: graph returned %d", protocol.ErrUnavailable, resp.StatusCode)
	}
	return body, nil
}

// literal renders s as an escaped xsd:string literal.
func literal(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(s) + `"^^xsd:string`
}

func dateTime(t time.Time) string {
	return `"` + t.UTC().Format(time.RFC3339) + `"^^xsd:dateTime`
}
