package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/azkidenz/intervia-poc/ledger"
	"github.com/azkidenz/intervia-poc/logger"
	"github.com/azkidenz/intervia-poc/models"
	"github.com/azkidenz/intervia-poc/protocol"
)

// HistorySource returns the ledger transactions of a ticket.
type HistorySource interface {
	History(ticketID string) ([]models.Transaction, error)
}

// Handler contains the HTTP handlers for the ticket operation surface
type Handler struct {
	Lifecycle *protocol.Lifecycle
	History   HistorySource
}

// NewHandler creates and returns a new Handler instance
func NewHandler(l *protocol.Lifecycle, history HistorySource) *Handler {
	return &Handler{Lifecycle: l, History: history}
}

type response struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
	Retry    string `json:"retry,omitempty"`
	Data     any    `json:"data,omitempty"`
}

type ticketRequest struct {
	TicketID         string `json:"ticketId"`
	CustomerAddress  string `json:"customerAddress"`
	CurrentStationID string `json:"currentStationId"`
}

type requestIDKey struct{}

// WithRequestID stores the request ID used in log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the ID stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// IssueTicket handles POST /issueTicket
func (h *Handler) IssueTicket(w http.ResponseWriter, r *http.Request) {
	var req models.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode issue request", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
		writeJSON(w, http.StatusBadRequest, response{Message: "Invalid request payload", Code: string(protocol.CodeInvalidRequest)})
		return
	}
	logger.Logger.Info("Received issuance request",
		zap.String("ticket_type", req.Type), zap.String("service_id", req.ServiceID), zap.String("request_id", RequestID(r.Context())))

	res, err := h.Lifecycle.Issue(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Issue", err)
		return
	}

	data := map[string]any{"ticketId": res.TicketID}
	if !res.Mirror.Synchronized {
		data["mirrorError"] = res.Mirror.Err.Error()
		writeJSON(w, http.StatusAccepted, response{
			Success: true,
			Message: "Ticket issued on the ledger, but graph synchronization failed.",
			Data:    data,
		})
		return
	}
	writeJSON(w, http.StatusCreated, response{Success: true, Message: "Ticket issued and synchronized.", Data: data})
}

// ActivateTicket handles POST /activateTicket
func (h *Handler) ActivateTicket(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTicketRequest(w, r)
	if !ok {
		return
	}

	res, err := h.Lifecycle.Activate(r.Context(), req.TicketID, req.CustomerAddress, req.CurrentStationID)
	if err != nil {
		h.fail(w, r, "Activate", err)
		return
	}

	logger.Logger.Info("Ticket activated",
		zap.String("ticket_id", res.TicketID), zap.String("station_id", res.StationID), zap.String("request_id", RequestID(r.Context())))
	writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: "Ticket activated.",
		Data:    map[string]any{"ticketId": res.TicketID, "service": res.ServiceID},
	})
}

// InspectTicket handles POST /inspectTicket
func (h *Handler) InspectTicket(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTicketRequest(w, r)
	if !ok {
		return
	}

	res, err := h.Lifecycle.Inspect(r.Context(), req.TicketID, req.CustomerAddress, req.CurrentStationID)
	if err != nil {
		h.fail(w, r, "Inspect", err)
		return
	}

	minutes := int64(res.Remaining.Minutes())
	writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: fmt.Sprintf("Ticket inspected and valid. Remaining time: %d min.", minutes),
		Data: map[string]any{
			"service":          res.ServiceID,
			"remainingSeconds": int64(res.Remaining.Seconds()),
			"remainingMinutes": minutes,
		},
	})
}

// ServiceConsistency handles GET /services/{id}/consistency
func (h *Handler) ServiceConsistency(w http.ResponseWriter, r *http.Request) {
	serviceID := mux.Vars(r)["id"]
	res, err := h.Lifecycle.Consistency().VerifyServiceConsistency(r.Context(), serviceID)
	if err != nil {
		h.fail(w, r, "Consistency", err)
		return
	}
	msg := "Ledger and graph agree."
	if !res.Agrees {
		msg = "Ledger and graph disagree."
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: msg, Data: map[string]any{
		"serviceId":          res.ServiceID,
		"agrees":             res.Agrees,
		"ledgerDigest":       res.LedgerDigest,
		"graphDigest":        res.GraphDigest,
		"route":              res.Route,
		"maxDurationSeconds": int64(res.MaxDuration.Seconds()),
	}})
}

// TicketHistory handles GET /tickets/{id}/history
func (h *Handler) TicketHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeJSON(w, http.StatusNotImplemented, response{Message: "Ledger history is not available."})
		return
	}
	ticketID := mux.Vars(r)["id"]
	txs, err := h.History.History(ticketID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeJSON(w, http.StatusNotFound, response{Message: "Ticket not found.", Code: string(protocol.CodeTicketNotFound)})
		return
	case err != nil:
		logger.Logger.Error("Failed to read ticket history", zap.String("ticket_id", ticketID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true, Message: "Ticket history.", Data: txs})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeTicketRequest(w http.ResponseWriter, r *http.Request) (ticketRequest, bool) {
	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logger.Error("Failed to decode ticket request", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
		writeJSON(w, http.StatusBadRequest, response{Message: "Invalid request payload", Code: string(protocol.CodeInvalidRequest)})
		return req, false
	}
	return req, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	pe, ok := protocol.AsError(err)
	if !ok {
		logger.Logger.Error(op+" failed", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
		writeJSON(w, http.StatusInternalServerError, response{Message: err.Error()})
		return
	}

	fields := []zap.Field{
		zap.String("code", string(pe.Code)),
		zap.String("category", string(pe.Category)),
		zap.String("ticket_id", pe.TicketID),
		zap.String("service_id", pe.ServiceID),
		zap.String("station_id", pe.StationID),
		zap.String("request_id", RequestID(r.Context())),
	}
	if pe.Err != nil {
		fields = append(fields, zap.Error(pe.Err))
	}
	if pe.Category == protocol.CategoryGatewayUnavailable {
		logger.Logger.Error(op+" failed", fields...)
	} else {
		logger.Logger.Info(op+" rejected", fields...)
	}

	writeJSON(w, StatusFor(pe), response{
		Message:  message(pe),
		Code:     string(pe.Code),
		Category: string(pe.Category),
		Retry:    pe.Retry(),
		Data: map[string]string{
			"ticketId": pe.TicketID,
			"service":  pe.ServiceID,
			"station":  pe.StationID,
		},
	})
}

// StatusFor maps a protocol failure onto an HTTP status.
func StatusFor(pe *protocol.Error) int {
	if pe.Code == protocol.CodeTicketExpired {
		return http.StatusGone
	}
	switch pe.Category {
	case protocol.CategoryNotFound:
		return http.StatusNotFound
	case protocol.CategoryConflict:
		return http.StatusConflict
	case protocol.CategoryUnauthorized:
		return http.StatusForbidden
	case protocol.CategoryNotSynchronized:
		return http.StatusServiceUnavailable
	case protocol.CategoryGatewayUnavailable:
		return http.StatusBadGateway
	case protocol.CategoryInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func message(pe *protocol.Error) string {
	switch pe.Code {
	case protocol.CodeTicketNotFound:
		return "Ticket not found."
	case protocol.CodeServiceNotFound:
		return fmt.Sprintf("Service %s not found on the ledger.", pe.ServiceID)
	case protocol.CodeOwnershipMismatch:
		return "Ticket owner not valid."
	case protocol.CodeAlreadyActivatedOrExpired:
		return "Ticket already activated or expired."
	case protocol.CodeNotYetActivated:
		return "Ticket not activated."
	case protocol.CodeTicketExpired:
		return "Ticket expired."
	case protocol.CodeServiceNotSynchronized, protocol.CodeOffChainDataMissing:
		return "Off-chain data not synchronized."
	case protocol.CodeStationNotAuthorized:
		return fmt.Sprintf("Ticket not valid for %s station.", pe.StationID)
	case protocol.CodeStopNotOnRoute:
		return fmt.Sprintf("Stop %s is not part of line %s.", pe.StationID, pe.ServiceID)
	case protocol.CodeGatewayUnavailable:
		return "Ledger or graph unavailable."
	default:
		return pe.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
