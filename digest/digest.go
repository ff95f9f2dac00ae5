// Package digest computes the content digest that the ledger and the
// knowledge graph both hold for a service.
package digest

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/azkidenz/intervia-poc/models"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("digest: CBOR encoder initialization failed: " + err.Error())
	}
}

// serviceLeaf is the canonical form hashed into a service digest. Field
// order and names are part of the digest and must not change.
type serviceLeaf struct {
	ID                 string   `cbor:"1,keyasint"`
	Owner              string   `cbor:"2,keyasint"`
	Route              []string `cbor:"3,keyasint"`
	MaxDurationSeconds int64    `cbor:"4,keyasint"`
}

// Service returns the digest of a service definition.
func Service(s models.Service) (models.Digest, error) {
	route := s.Route
	if route == nil {
		route = []string{}
	}
	data, err := encMode.Marshal(serviceLeaf{
		ID:                 s.ID,
		Owner:              s.Owner,
		Route:              route,
		MaxDurationSeconds: int64(s.MaxDuration.Seconds()),
	})
	if err != nil {
		return models.Digest{}, err
	}
	return models.Digest(blake3.Sum256(data)), nil
}

// Canonical encodes v with deterministic CBOR. Identical values always
// produce identical bytes.
func Canonical(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Sum hashes arbitrary bytes with BLAKE3-256.
func Sum(data []byte) models.Digest {
	return models.Digest(blake3.Sum256(data))
}
