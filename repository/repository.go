package repository

import (
	"encoding/json"
	"errors"

	"github.com/azkidenz/intervia-poc/db"
	"github.com/azkidenz/intervia-poc/models"
)

// ErrNotFound is returned when a record is absent from the store.
var ErrNotFound = errors.New("record not found")

const (
	txPrefix       = "tx:"
	ticketPrefix   = "ticket:"
	servicePrefix  = "service:"
	providerPrefix = "provider:"
	checkpointKey  = "checkpoint:head"
)

// Commit groups the records written by one ledger transaction. Everything in
// a Commit lands atomically.
type Commit struct {
	Tx         *models.Transaction
	Ticket     *models.Ticket
	Service    *models.Service
	Provider   *models.FareProvider
	Checkpoint *models.Checkpoint
}

// It abstracts the storage layer from the ledger logic
type LedgerRepositoryInterface interface {
	Commit(c Commit) error
	GetTx(id string) (*models.Transaction, error)
	GetTicket(id string) (*models.Ticket, error)
	GetService(id string) (*models.Service, error)
	GetAllServices() ([]*models.Service, error)
	GetProvider(id string) (*models.FareProvider, error)
	GetLatestCheckpoint() (*models.Checkpoint, error)
}

// LedgerRepository implements the LedgerRepositoryInterface using LevelDB as the storage backend
type LedgerRepository struct {
	db *db.LevelDB
}

// NewLedgerRepository creates and returns a new LedgerRepository instance
func NewLedgerRepository(db *db.LevelDB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Commit stores every record of c in a single LevelDB batch
func (r *LedgerRepository) Commit(c Commit) error {
	b := &db.Batch{}
	if c.Tx != nil {
		if err := putJSON(b, txPrefix+c.Tx.ID, c.Tx); err != nil {
			return err
		}
	}
	if c.Ticket != nil {
		if err := putJSON(b, ticketPrefix+c.Ticket.ID, c.Ticket); err != nil {
			return err
		}
	}
	if c.Service != nil {
		if err := putJSON(b, servicePrefix+c.Service.ID, c.Service); err != nil {
			return err
		}
	}
	if c.Provider != nil {
		if err := putJSON(b, providerPrefix+c.Provider.ID, c.Provider); err != nil {
			return err
		}
	}
	if c.Checkpoint != nil {
		if err := putJSON(b, checkpointKey, c.Checkpoint); err != nil {
			return err
		}
	}
	if b.Len() == 0 {
		return nil
	}
	return r.db.Write(b)
}

// GetTx retrieves a ledger transaction by its ID
func (r *LedgerRepository) GetTx(id string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.getJSON(txPrefix+id, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTicket retrieves the current ticket record
func (r *LedgerRepository) GetTicket(id string) (*models.Ticket, error) {
	var t models.Ticket
	if err := r.getJSON(ticketPrefix+id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetService retrieves a service definition
func (r *LedgerRepository) GetService(id string) (*models.Service, error) {
	var s models.Service
	if err := r.getJSON(servicePrefix+id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetAllServices retrieves every registered service
func (r *LedgerRepository) GetAllServices() ([]*models.Service, error) {
	iter := r.db.NewPrefixIterator([]byte(servicePrefix))
	defer iter.Release()

	var services []*models.Service
	for iter.Next() {
		var s models.Service
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			return nil, err
		}
		services = append(services, &s)
	}
	return services, iter.Error()
}

// GetProvider retrieves a registered fare provider
func (r *LedgerRepository) GetProvider(id string) (*models.FareProvider, error) {
	var p models.FareProvider
	if err := r.getJSON(providerPrefix+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Retrieves the ledger head; nil when nothing was committed yet
func (r *LedgerRepository) GetLatestCheckpoint() (*models.Checkpoint, error) {
	var cp models.Checkpoint
	if err := r.getJSON(checkpointKey, &cp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func (r *LedgerRepository) getJSON(key string, v any) error {
	data, err := r.db.Get([]byte(key))
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func putJSON(b *db.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.Put([]byte(key), data)
	return nil
}
