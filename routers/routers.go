package routers

import (
	"github.com/gorilla/mux"

	"github.com/azkidenz/intervia-poc/handlers"
)

// RegisterRoutes sets up all the HTTP routes of the ticket middleware
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Issues a ticket on the ledger and mirrors it into the graph
	r.HandleFunc("/issueTicket", h.IssueTicket).Methods("POST")

	// Activates an issued ticket at a station
	r.HandleFunc("/activateTicket", h.ActivateTicket).Methods("POST")

	// Inspects an activated ticket, expiring it when its validity has elapsed
	r.HandleFunc("/inspectTicket", h.InspectTicket).Methods("POST")

	// Used for checking ledger and graph synchronization of one service
	r.HandleFunc("/services/{id}/consistency", h.ServiceConsistency).Methods("GET")

	// Ledger transaction chain of a ticket
	r.HandleFunc("/tickets/{id}/history", h.TicketHistory).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
}
