package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/protocol"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS triples (
    seq       INTEGER PRIMARY KEY AUTOINCREMENT,
    subject   TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object    TEXT NOT NULL,
    UNIQUE (subject, predicate, object)
);
CREATE INDEX IF NOT EXISTS idx_triples_po ON triples (predicate, object);
`

// SQLiteStore is an embedded triple store holding the same ontology as the
// remote graph. Objects are stored as local names or plain literal text.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ protocol.GraphGateway = (*SQLiteStore)(nil)
	_ Admin                 = (*SQLiteStore)(nil)
)

// OpenSQLite opens (or creates) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps SQLite from reporting SQLITE_BUSY under load
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init graph schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) QueryServiceDefinition(ctx context.Context, serviceID string) (models.ServiceDefinition, error) {
	def := models.ServiceDefinition{ID: serviceID}

	hashes, err := s.objects(ctx, serviceID, predMerkleHash)
	if err != nil {
		return def, err
	}
	durations, err := s.objects(ctx, serviceID, predMaxDurationMinutes)
	if err != nil {
		return def, err
	}
	route, err := s.objects(ctx, serviceID, predFollowsRoute)
	if err != nil {
		return def, err
	}
	if len(hashes) == 0 || len(durations) == 0 || len(route) == 0 {
		return def, fmt.Errorf("%w: off-chain data for service %s", protocol.ErrNotFound, serviceID)
	}

	minutes := -1
	for _, d := range durations {
		if m, err := strconv.Atoi(d); err == nil && (minutes < 0 || m < minutes) {
			minutes = m
		}
	}
	if minutes < 0 {
		return def, fmt.Errorf("%w: service %s has no numeric duration", protocol.ErrNotFound, serviceID)
	}
	def.Digest = singleDigest(hashes)
	def.MaxDuration = time.Duration(minutes) * time.Minute
	def.Route = route
	return def, nil
}

func (s *SQLiteStore) QueryServiceOwner(ctx context.Context, serviceID string) (string, error) {
	owners, err := s.objects(ctx, serviceID, predHasOwner)
	if err != nil {
		return "", err
	}
	if len(owners) == 0 {
		return "", fmt.Errorf("%w: owner of service %s", protocol.ErrNotFound, serviceID)
	}
	return owners[0], nil
}

func (s *SQLiteStore) QueryStationProviders(ctx context.Context, stationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT o.object
FROM triples r
JOIN triples o ON o.subject = r.subject AND o.predicate = ?
WHERE r.predicate = ? AND r.object = ?
ORDER BY o.seq`, predHasOwner, predFollowsRoute, stationID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, unavailable(err)
		}
		providers = appendUnique(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return providers, nil
}

func (s *SQLiteStore) QueryAgreementExists(ctx context.Context, from, to string, at time.Time) (bool, error) {
	var permanent int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM triples WHERE subject = ? AND predicate = ? AND object = ?`,
		from, predHasAgreementWith, to).Scan(&permanent)
	if err != nil {
		return false, unavailable(err)
	}
	if permanent > 0 {
		return true, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT
    COALESCE((SELECT object FROM triples WHERE subject = a.object AND predicate = ? LIMIT 1), ''),
    COALESCE((SELECT object FROM triples WHERE subject = a.object AND predicate = ? LIMIT 1), '')
FROM triples a
JOIN triples w ON w.subject = a.object AND w.predicate = ? AND w.object = ?
WHERE a.subject = ? AND a.predicate = ?`,
		predValidFrom, predValidUntil, predWithTSP, to, from, predHasTemporalAgreement)
	if err != nil {
		return false, unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		var validFrom, validUntil string
		if err := rows.Scan(&validFrom, &validUntil); err != nil {
			return false, unavailable(err)
		}
		if agreementActive(validFrom, validUntil, at) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, unavailable(err)
	}
	return false, nil
}

func (s *SQLiteStore) InsertTicketRecord(ctx context.Context, rec models.TicketRecord) error {
	subject := ticketSubject(rec.TicketID)
	return s.insert(ctx,
		triple{subject, predType, classTicket},
		triple{subject, predOnChainID, rec.TicketID},
		triple{subject, predHasOwner, rec.Owner},
		triple{subject, predForService, rec.ServiceID},
		triple{subject, predTicketType, rec.Type},
	)
}

func (s *SQLiteStore) PutProvider(ctx context.Context, p models.FareProvider) error {
	return s.insert(ctx,
		triple{p.ID, predType, classProvider},
		triple{p.ID, predAddress, p.Address},
	)
}

func (s *SQLiteStore) PutStop(ctx context.Context, stopID string) error {
	return s.insert(ctx, triple{stopID, predType, classStop})
}

func (s *SQLiteStore) PutService(ctx context.Context, svc models.Service) error {
	ts := []triple{
		{svc.ID, predType, classService},
		{svc.ID, predHasOwner, svc.Owner},
		{svc.ID, predMaxDurationMinutes, strconv.FormatInt(int64(svc.MaxDuration/time.Minute), 10)},
	}
	for _, stop := range svc.Route {
		ts = append(ts, triple{svc.ID, predFollowsRoute, stop})
	}
	return s.insert(ctx, ts...)
}

func (s *SQLiteStore) PutAgreement(ctx context.Context, a models.Agreement) error {
	if !a.Temporal() {
		return s.insert(ctx, triple{a.From, predHasAgreementWith, a.To})
	}
	node := "AGREEMENT_" + uuid.NewString()
	ts := []triple{
		{a.From, predHasTemporalAgreement, node},
		{node, predWithTSP, a.To},
	}
	if !a.ValidFrom.IsZero() {
		ts = append(ts, triple{node, predValidFrom, a.ValidFrom.UTC().Format(time.RFC3339)})
	}
	if !a.ValidUntil.IsZero() {
		ts = append(ts, triple{node, predValidUntil, a.ValidUntil.UTC().Format(time.RFC3339)})
	}
	return s.insert(ctx, ts...)
}

func (s *SQLiteStore) SetServiceDigest(ctx context.Context, serviceID string, d models.Digest) error {
	return s.SetRawDigest(ctx, serviceID, d.String())
}

// SetRawDigest replaces the digest of serviceID with value, unchecked.
func (s *SQLiteStore) SetRawDigest(ctx context.Context, serviceID, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM triples WHERE subject = ? AND predicate = ?`, serviceID, predMerkleHash); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO triples (subject, predicate, object) VALUES (?, ?, ?)`, serviceID, predMerkleHash, value)
		return err
	})
}

type triple struct {
	subject, predicate, object string
}

func (s *SQLiteStore) insert(ctx context.Context, ts ...triple) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range ts {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO triples (subject, predicate, object) VALUES (?, ?, ?)`,
				t.subject, t.predicate, t.object); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// objects lists the objects of (subject, predicate) in insertion order.
func (s *SQLiteStore) objects(ctx context.Context, subject, predicate string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object FROM triples WHERE subject = ? AND predicate = ? ORDER BY seq`, subject, predicate)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func unavailable(err error) error {
	if errors.Is(err, protocol.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", protocol.ErrUnavailable, err)
}
