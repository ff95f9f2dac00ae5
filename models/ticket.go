package models

import "time"

// TicketState is the ledger-resident lifecycle state of a ticket.
type TicketState uint8

const (
	StateIssued TicketState = iota
	StateActivated
	StateExpired
)

func (s TicketState) String() string {
	switch s {
	case StateIssued:
		return "Issued"
	case StateActivated:
		return "Activated"
	case StateExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// TicketRef locates a ticket on the ledger, as returned by the registry.
type TicketRef struct {
	TicketID string `json:"ticket_id"`
	Address  string `json:"address"`
}

// Ticket is the authoritative ledger record.
type Ticket struct {
	ID          string      `json:"id"`
	Address     string      `json:"address"`
	Owner       string      `json:"owner"`
	ServiceID   string      `json:"service_id"`
	Origin      string      `json:"origin"`
	Destination string      `json:"destination"`
	Type        string      `json:"type"`
	State       TicketState `json:"state"`
	// ActivatedAt is zero while State is StateIssued.
	ActivatedAt      time.Time `json:"activated_at,omitempty"`
	ActivatedStation string    `json:"activated_station,omitempty"`
	LastTx           string    `json:"last_tx"`
}

// TicketRecord is the non-authoritative mirror written to the graph.
type TicketRecord struct {
	TicketID  string
	Owner     string
	ServiceID string
	Type      string
}

// IssueRequest carries the arguments of a ledger issuance.
type IssueRequest struct {
	Customer    string `json:"customerAddress"`
	ServiceID   string `json:"serviceId"`
	Origin      string `json:"originStopId"`
	Destination string `json:"destinationStopId"`
	Type        string `json:"ticketType"`
}
