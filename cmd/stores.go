package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/azkidenz/intervia-poc/config"
	"github.com/azkidenz/intervia-poc/db"
	"github.com/azkidenz/intervia-poc/graph"
	"github.com/azkidenz/intervia-poc/ledger"
	"github.com/azkidenz/intervia-poc/logger"
	"github.com/azkidenz/intervia-poc/protocol"
	"github.com/azkidenz/intervia-poc/repository"
)

type graphStore interface {
	protocol.GraphGateway
	graph.Admin
}

// stores holds the opened ledger and graph backends.
type stores struct {
	ldb    *db.LevelDB
	ledger *ledger.Ledger
	graph  graphStore
	closer func() error
}

func (s *stores) Close() {
	if s.closer != nil {
		if err := s.closer(); err != nil {
			logger.Logger.Warn("Failed to close graph store", zap.Error(err))
		}
	}
	if err := s.ldb.Close(); err != nil {
		logger.Logger.Warn("Failed to close leveldb", zap.Error(err))
	}
}

func openStores(c *config.Config) (*stores, error) {
	var (
		ldb *db.LevelDB
		err error
	)
	if c.LevelDB.Path == "" {
		logger.Logger.Warn("No leveldb path configured, ledger kept in memory")
		ldb, err = db.NewMemLevelDB()
	} else {
		ldb, err = db.NewLevelDB(c.LevelDB.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}

	led, err := ledger.NewLedger(repository.NewLedgerRepository(ldb), nil)
	if err != nil {
		ldb.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	head := led.Head()
	logger.Logger.Info("Ledger opened", zap.Uint64("height", head.Height), zap.String("head_tx", head.HeadTx))

	s := &stores{ldb: ldb, ledger: led}
	switch c.Graph.Backend {
	case config.GraphSPARQL:
		s.graph = graph.NewSPARQLClient(c.Graph.Endpoint, c.Graph.Database, c.Graph.Username, c.Graph.Password,
			&http.Client{Timeout: c.Gateway.Timeout})
		logger.Logger.Info("Using SPARQL graph", zap.String("endpoint", c.Graph.Endpoint), zap.String("database", c.Graph.Database))
	case config.GraphSQLite, "":
		if dir := filepath.Dir(c.Graph.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				ldb.Close()
				return nil, err
			}
		}
		store, err := graph.OpenSQLite(c.Graph.SQLitePath)
		if err != nil {
			ldb.Close()
			return nil, fmt.Errorf("open sqlite graph: %w", err)
		}
		s.graph = store
		s.closer = store.Close
		logger.Logger.Info("Using SQLite graph", zap.String("path", c.Graph.SQLitePath))
	default:
		ldb.Close()
		return nil, fmt.Errorf("unknown graph backend %q", c.Graph.Backend)
	}
	return s, nil
}
