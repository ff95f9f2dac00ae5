package models

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DigestSize is the length in bytes of a service digest.
const DigestSize = 32

// Digest summarizes the authoritative definition of a service.
type Digest [DigestSize]byte

var ErrInvalidDigest = errors.New("invalid digest")

// ParseDigest decodes a hex digest with an optional 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) != DigestSize*2 {
		return d, ErrInvalidDigest
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, ErrInvalidDigest
	}
	return d, nil
}

func (d Digest) String() string {
	return "0x" + hex.EncodeToString(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Service is the ledger-side definition of a transit line.
type Service struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner"`        // fare provider ID
	Route       []string      `json:"route"`        // ordered stop IDs
	MaxDuration time.Duration `json:"max_duration"` // ticket validity after activation
	Digest      Digest        `json:"digest"`
	LastTx      string        `json:"last_tx"`
}

// ServiceDefinition is what the knowledge graph reports for a service.
// Digest is kept in its wire form: the graph is not trusted to hold a
// well-formed value.
type ServiceDefinition struct {
	ID          string
	Digest      string
	MaxDuration time.Duration
	Route       []string
}

// OnRoute reports whether stop is a member of route. Order is irrelevant.
func OnRoute(route []string, stop string) bool {
	for _, s := range route {
		if s == stop {
			return true
		}
	}
	return false
}
