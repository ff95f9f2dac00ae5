package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/azkidenz/intervia-poc/digest"
	"github.com/azkidenz/intervia-poc/logger"
	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/repository"
)

var (
	ErrNotFound        = errors.New("ledger: not found")
	ErrExists          = errors.New("ledger: already exists")
	ErrStateConflict   = errors.New("ledger: ticket state conflict")
	ErrUnauthorized    = errors.New("ledger: sender not authorized")
	ErrInvalidArgument = errors.New("ledger: invalid argument")
)

// Ledger is an append-only transaction DAG holding tickets, services and
// fare providers. Each write is a transaction whose parent is the previous
// transaction on the same subject. Writes are serialized; a write is only
// accepted if the subject is in the state the write requires.
type Ledger struct {
	repo repository.LedgerRepositoryInterface
	mux  sync.Mutex
	now  func() time.Time
	head models.Checkpoint
}

// NewLedger restores the ledger head from the latest checkpoint.
func NewLedger(repo repository.LedgerRepositoryInterface, now func() time.Time) (*Ledger, error) {
	if now == nil {
		now = time.Now
	}
	l := &Ledger{repo: repo, now: now}
	cp, err := repo.GetLatestCheckpoint()
	if err != nil {
		return nil, err
	}
	if cp != nil {
		l.head = *cp
	}
	return l, nil
}

// Head returns the latest committed checkpoint.
func (l *Ledger) Head() models.Checkpoint {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.head
}

// RegisterProvider records a fare provider.
func (l *Ledger) RegisterProvider(sender string, p models.FareProvider) error {
	if p.ID == "" {
		return fmt.Errorf("%w: provider id is required", ErrInvalidArgument)
	}
	l.mux.Lock()
	defer l.mux.Unlock()

	if _, err := l.repo.GetProvider(p.ID); err == nil {
		return fmt.Errorf("%w: provider %s", ErrExists, p.ID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	tx := l.newTx(models.TxRegisterProvider, p.ID, sender, nil, map[string]string{"address": p.Address})
	if err := l.commit(repository.Commit{Tx: tx, Provider: &p}); err != nil {
		return err
	}
	return nil
}

// CreateService registers a service owned by a known provider. The route
// starts empty and grows through AddPlannedStop.
func (l *Ledger) CreateService(sender, id, owner string, maxDuration time.Duration) (models.Service, error) {
	if id == "" || owner == "" || maxDuration <= 0 {
		return models.Service{}, fmt.Errorf("%w: service id, owner and a positive duration are required", ErrInvalidArgument)
	}
	l.mux.Lock()
	defer l.mux.Unlock()

	if _, err := l.repo.GetService(id); err == nil {
		return models.Service{}, fmt.Errorf("%w: service %s", ErrExists, id)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return models.Service{}, err
	}
	if _, err := l.repo.GetProvider(owner); err != nil {
		return models.Service{}, l.notFound(err, "provider "+owner)
	}

	svc := models.Service{ID: id, Owner: owner, Route: []string{}, MaxDuration: maxDuration}
	d, err := digest.Service(svc)
	if err != nil {
		return models.Service{}, err
	}
	svc.Digest = d

	tx := l.newTx(models.TxCreateService, id, sender, nil, map[string]string{
		"owner":        owner,
		"max_duration": strconv.FormatInt(int64(maxDuration.Seconds()), 10),
		"digest":       d.String(),
	})
	svc.LastTx = tx.ID
	if err := l.commit(repository.Commit{Tx: tx, Service: &svc}); err != nil {
		return models.Service{}, err
	}
	return svc, nil
}

// AddPlannedStop appends a stop to a service route and recomputes the
// service digest. Only the owning provider may extend its route.
func (l *Ledger) AddPlannedStop(sender, serviceID, stopID string) (models.Service, error) {
	if stopID == "" {
		return models.Service{}, fmt.Errorf("%w: stop id is required", ErrInvalidArgument)
	}
	l.mux.Lock()
	defer l.mux.Unlock()

	svc, err := l.repo.GetService(serviceID)
	if err != nil {
		return models.Service{}, l.notFound(err, "service "+serviceID)
	}
	if sender != svc.Owner {
		return models.Service{}, fmt.Errorf("%w: %s does not own service %s", ErrUnauthorized, sender, serviceID)
	}

	svc.Route = append(svc.Route, stopID)
	d, err := digest.Service(*svc)
	if err != nil {
		return models.Service{}, err
	}
	svc.Digest = d

	tx := l.newTx(models.TxAddPlannedStop, serviceID, sender, []string{svc.LastTx}, map[string]string{
		"stop":   stopID,
		"digest": d.String(),
	})
	svc.LastTx = tx.ID
	if err := l.commit(repository.Commit{Tx: tx, Service: svc}); err != nil {
		return models.Service{}, err
	}
	return *svc, nil
}

// Service returns a registered service.
func (l *Ledger) Service(id string) (models.Service, error) {
	svc, err := l.repo.GetService(id)
	if err != nil {
		return models.Service{}, l.notFound(err, "service "+id)
	}
	return *svc, nil
}

// Services returns every registered service ordered by ID.
func (l *Ledger) Services() ([]models.Service, error) {
	all, err := l.repo.GetAllServices()
	if err != nil {
		return nil, err
	}
	out := make([]models.Service, 0, len(all))
	for _, s := range all {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IssueTicket creates a ticket in state Issued. The ticket ID is the ID of
// the issuing transaction.
func (l *Ledger) IssueTicket(sender string, req models.IssueRequest) (models.Ticket, error) {
	if req.Customer == "" || req.ServiceID == "" {
		return models.Ticket{}, fmt.Errorf("%w: customer and service are required", ErrInvalidArgument)
	}
	l.mux.Lock()
	defer l.mux.Unlock()

	svc, err := l.repo.GetService(req.ServiceID)
	if err != nil {
		return models.Ticket{}, l.notFound(err, "service "+req.ServiceID)
	}

	tx := l.newTx(models.TxIssueTicket, "", sender, []string{svc.LastTx}, map[string]string{
		"customer":    req.Customer,
		"service":     req.ServiceID,
		"origin":      req.Origin,
		"destination": req.Destination,
		"type":        req.Type,
	})
	// The subject of an issuance is the ticket it creates.
	tx.Subject = tx.ID

	ticket := models.Ticket{
		ID:          tx.ID,
		Address:     ticketAddress(tx.ID),
		Owner:       req.Customer,
		ServiceID:   req.ServiceID,
		Origin:      req.Origin,
		Destination: req.Destination,
		Type:        req.Type,
		State:       models.StateIssued,
		LastTx:      tx.ID,
	}
	if err := l.commit(repository.Commit{Tx: tx, Ticket: &ticket}); err != nil {
		return models.Ticket{}, err
	}

	logger.Logger.Info("Ticket issued on ledger",
		zap.String("ticket_id", ticket.ID), zap.String("service_id", ticket.ServiceID))
	return ticket, nil
}

// Ticket returns the current ticket record.
func (l *Ledger) Ticket(id string) (models.Ticket, error) {
	t, err := l.repo.GetTicket(id)
	if err != nil {
		return models.Ticket{}, l.notFound(err, "ticket "+id)
	}
	return *t, nil
}

// Activate moves a ticket from Issued to Activated, stamping it with the
// ledger clock. Only the first activation is accepted.
func (l *Ledger) Activate(sender, ticketID, stationID string) (models.Ticket, error) {
	return l.transition(sender, ticketID, models.TxActivateTicket, models.StateIssued, models.StateActivated,
		map[string]string{"station": stationID},
		func(t *models.Ticket, at time.Time) {
			t.ActivatedAt = at
			t.ActivatedStation = stationID
		})
}

// ForceExpire moves an Activated ticket to Expired.
func (l *Ledger) ForceExpire(sender, ticketID string) (models.Ticket, error) {
	return l.transition(sender, ticketID, models.TxExpireTicket, models.StateActivated, models.StateExpired, nil, nil)
}

func (l *Ledger) transition(sender, ticketID, kind string, from, to models.TicketState, fields map[string]string, apply func(*models.Ticket, time.Time)) (models.Ticket, error) {
	l.mux.Lock()
	defer l.mux.Unlock()

	t, err := l.repo.GetTicket(ticketID)
	if err != nil {
		return models.Ticket{}, l.notFound(err, "ticket "+ticketID)
	}
	if t.State != from {
		return *t, fmt.Errorf("%w: ticket %s is %s, want %s", ErrStateConflict, ticketID, t.State, from)
	}

	tx := l.newTx(kind, ticketID, sender, []string{t.LastTx}, fields)
	t.State = to
	t.LastTx = tx.ID
	if apply != nil {
		apply(t, time.UnixMilli(tx.CreatedAt).UTC())
	}
	if err := l.commit(repository.Commit{Tx: tx, Ticket: t}); err != nil {
		return models.Ticket{}, err
	}
	return *t, nil
}

// History returns the transactions of a ticket, oldest first, by walking
// parent links back to the issuance.
func (l *Ledger) History(ticketID string) ([]models.Transaction, error) {
	t, err := l.repo.GetTicket(ticketID)
	if err != nil {
		return nil, l.notFound(err, "ticket "+ticketID)
	}

	var chain []models.Transaction
	cur := t.LastTx
	for cur != "" {
		tx, err := l.repo.GetTx(cur)
		if err != nil {
			return nil, l.notFound(err, "transaction "+cur)
		}
		chain = append(chain, *tx)
		if tx.Kind == models.TxIssueTicket {
			break
		}
		// ticket transitions have exactly one parent
		if len(tx.Parents) == 0 {
			break
		}
		cur = tx.Parents[0]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// newTx builds the next transaction; the caller holds l.mux.
func (l *Ledger) newTx(kind, subject, sender string, parents []string, fields map[string]string) *models.Transaction {
	if fields == nil {
		fields = map[string]string{}
	}
	if parents == nil {
		parents = []string{}
	}
	tx := &models.Transaction{
		Parents:   parents,
		Kind:      kind,
		Subject:   subject,
		Sender:    sender,
		Fields:    fields,
		Height:    l.head.Height + 1,
		CreatedAt: l.now().UnixMilli(),
	}
	tx.ID = txID(tx)
	return tx
}

// commit persists c together with the new head; the caller holds l.mux.
func (l *Ledger) commit(c repository.Commit) error {
	cp := models.Checkpoint{ID: "head", Height: c.Tx.Height, HeadTx: c.Tx.ID, Timestamp: c.Tx.CreatedAt}
	c.Checkpoint = &cp
	if err := l.repo.Commit(c); err != nil {
		logger.Logger.Error("Ledger commit failed", zap.String("tx_id", c.Tx.ID), zap.Error(err))
		return err
	}
	l.head = cp
	return nil
}

func (l *Ledger) notFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

// txID hashes the canonical encoding of every field except the ID itself.
func txID(tx *models.Transaction) string {
	data, err := digest.Canonical(struct {
		Parents   []string
		Kind      string
		Subject   string
		Sender    string
		Fields    map[string]string
		Height    uint64
		CreatedAt int64
	}{tx.Parents, tx.Kind, tx.Subject, tx.Sender, tx.Fields, tx.Height, tx.CreatedAt})
	if err != nil {
		// only reachable for unencodable values, which the struct above cannot hold
		panic("ledger: transaction encoding failed: " + err.Error())
	}
	return digest.Sum(data).String()
}

func ticketAddress(ticketID string) string {
	sum := digest.Sum([]byte("ticket:" + ticketID))
	return "0x" + hex.EncodeToString(sum[:20])
}
