// Package network loads a transport network definition and provisions it on
// the ledger and the knowledge graph.
package network

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/azkidenz/intervia-poc/graph"
	"github.com/azkidenz/intervia-poc/ledger"
	"github.com/azkidenz/intervia-poc/logger"
	"github.com/azkidenz/intervia-poc/models"
)

type Provider struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type Service struct {
	ID                 string   `yaml:"id"`
	Owner              string   `yaml:"owner"`
	MaxDurationMinutes int      `yaml:"max_duration_minutes"`
	Route              []string `yaml:"route"`
}

// Definition is the network file.
type Definition struct {
	Admin      string             `yaml:"admin"`
	Providers  []Provider         `yaml:"providers"`
	Stops      []string           `yaml:"stops"`
	Services   []Service          `yaml:"services"`
	Agreements []models.Agreement `yaml:"agreements"`
}

// ErrDefinitionMismatch means a service already on the ledger differs from
// the network file. Ledger services are never rewritten by seeding.
var ErrDefinitionMismatch = errors.New("network: definition differs from ledger")

// Load reads and validates a network file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse network: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks that every reference resolves and every identifier can be
// stored in the graph.
func (d *Definition) Validate() error {
	providers := make(map[string]bool, len(d.Providers))
	for _, p := range d.Providers {
		if !graph.ValidIdentifier(p.ID) {
			return fmt.Errorf("network: invalid provider id %q", p.ID)
		}
		providers[p.ID] = true
	}
	stops := make(map[string]bool, len(d.Stops))
	for _, s := range d.Stops {
		if !graph.ValidIdentifier(s) {
			return fmt.Errorf("network: invalid stop id %q", s)
		}
		stops[s] = true
	}
	for _, s := range d.Services {
		if !graph.ValidIdentifier(s.ID) {
			return fmt.Errorf("network: invalid service id %q", s.ID)
		}
		if !providers[s.Owner] {
			return fmt.Errorf("network: service %s owned by unknown provider %q", s.ID, s.Owner)
		}
		if s.MaxDurationMinutes <= 0 {
			return fmt.Errorf("network: service %s needs a positive max_duration_minutes", s.ID)
		}
		if len(s.Route) == 0 {
			return fmt.Errorf("network: service %s has an empty route", s.ID)
		}
		for _, stop := range s.Route {
			if !stops[stop] {
				return fmt.Errorf("network: service %s stops at unknown stop %q", s.ID, stop)
			}
		}
	}
	for _, a := range d.Agreements {
		if !providers[a.From] || !providers[a.To] {
			return fmt.Errorf("network: agreement %s -> %s names an unknown provider", a.From, a.To)
		}
		if a.From == a.To {
			return fmt.Errorf("network: agreement of %s with itself", a.From)
		}
	}
	return nil
}

// Seed registers the network on the ledger, writes its topology into the
// graph and finally synchronizes every digest. Entities already on the
// ledger are left untouched; a ledger service that differs from the file
// stops the seed with ErrDefinitionMismatch before its graph topology is
// written.
func Seed(ctx context.Context, def *Definition, l *ledger.Ledger, g graph.Admin) error {
	for _, p := range def.Providers {
		fp := models.FareProvider{ID: p.ID, Address: p.Address}
		if err := l.RegisterProvider(def.Admin, fp); err != nil && !errors.Is(err, ledger.ErrExists) {
			return fmt.Errorf("register provider %s: %w", p.ID, err)
		}
		if err := g.PutProvider(ctx, fp); err != nil {
			return fmt.Errorf("graph provider %s: %w", p.ID, err)
		}
	}

	for _, s := range def.Stops {
		if err := g.PutStop(ctx, s); err != nil {
			return fmt.Errorf("graph stop %s: %w", s, err)
		}
	}

	for _, s := range def.Services {
		svc, err := provisionService(def.Admin, s, l)
		if err != nil {
			return err
		}
		// The graph topology is written from the ledger record, never from the file.
		if err := g.PutService(ctx, svc); err != nil {
			return fmt.Errorf("graph service %s: %w", s.ID, err)
		}
		logger.Logger.Info("Service provisioned", zap.String("service_id", s.ID), zap.String("owner", s.Owner))
	}

	for _, a := range def.Agreements {
		if err := g.PutAgreement(ctx, a); err != nil {
			return fmt.Errorf("graph agreement %s -> %s: %w", a.From, a.To, err)
		}
	}

	_, err := Sync(ctx, l, g)
	return err
}

// provisionService creates s on the ledger with its whole route, or checks
// that the ledger already holds exactly s. It returns the ledger's record.
func provisionService(admin string, s Service, l *ledger.Ledger) (models.Service, error) {
	maxDuration := time.Duration(s.MaxDurationMinutes) * time.Minute
	_, err := l.CreateService(admin, s.ID, s.Owner, maxDuration)
	switch {
	case errors.Is(err, ledger.ErrExists):
		svc, err := l.Service(s.ID)
		if err != nil {
			return models.Service{}, err
		}
		if err := compareService(svc, s, maxDuration); err != nil {
			logger.Logger.Error("Ledger service differs from network file", zap.String("service_id", s.ID), zap.Error(err))
			return models.Service{}, err
		}
		logger.Logger.Info("Service already on ledger", zap.String("service_id", s.ID))
		return svc, nil
	case err != nil:
		return models.Service{}, fmt.Errorf("create service %s: %w", s.ID, err)
	}

	for _, stop := range s.Route {
		if _, err := l.AddPlannedStop(s.Owner, s.ID, stop); err != nil {
			return models.Service{}, fmt.Errorf("add stop %s to %s: %w", stop, s.ID, err)
		}
	}
	return l.Service(s.ID)
}

func compareService(svc models.Service, s Service, maxDuration time.Duration) error {
	if svc.Owner != s.Owner {
		return fmt.Errorf("%w: service %s is owned by %s on the ledger, %s in the file", ErrDefinitionMismatch, s.ID, svc.Owner, s.Owner)
	}
	if svc.MaxDuration != maxDuration {
		return fmt.Errorf("%w: service %s lasts %s on the ledger, %s in the file", ErrDefinitionMismatch, s.ID, svc.MaxDuration, maxDuration)
	}
	if slices.Equal(svc.Route, s.Route) {
		return nil
	}
	if len(svc.Route) < len(s.Route) && slices.Equal(svc.Route, s.Route[:len(svc.Route)]) {
		return fmt.Errorf("%w: service %s route is incomplete on the ledger (%d of %d stops)", ErrDefinitionMismatch, s.ID, len(svc.Route), len(s.Route))
	}
	return fmt.Errorf("%w: service %s route is %v on the ledger, %v in the file", ErrDefinitionMismatch, s.ID, svc.Route, s.Route)
}

// Sync copies every ledger digest into the graph, replacing what the graph
// held. It returns the number of services synchronized.
func Sync(ctx context.Context, l *ledger.Ledger, g graph.Admin) (int, error) {
	services, err := l.Services()
	if err != nil {
		return 0, err
	}
	for i, svc := range services {
		if err := g.SetServiceDigest(ctx, svc.ID, svc.Digest); err != nil {
			return i, fmt.Errorf("sync digest of %s: %w", svc.ID, err)
		}
		logger.Logger.Info("Digest synchronized",
			zap.String("service_id", svc.ID), zap.String("digest", svc.Digest.String()))
	}
	return len(services), nil
}
