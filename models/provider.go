package models

import "time"

// FareProvider is an organisation owning one or more services.
type FareProvider struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// Agreement authorizes tickets of From to be honoured on services of To.
// A zero ValidFrom/ValidUntil pair marks a permanent agreement.
type Agreement struct {
	From       string    `json:"from" yaml:"from"`
	To         string    `json:"to" yaml:"to"`
	ValidFrom  time.Time `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil time.Time `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
}

func (a Agreement) Temporal() bool {
	return !a.ValidFrom.IsZero() || !a.ValidUntil.IsZero()
}

// ActiveAt reports whether the agreement grants validity at t.
func (a Agreement) ActiveAt(t time.Time) bool {
	if !a.ValidFrom.IsZero() && t.Before(a.ValidFrom) {
		return false
	}
	if !a.ValidUntil.IsZero() && t.After(a.ValidUntil) {
		return false
	}
	return true
}
