package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/quantlabhq/tradeplane/src/eventconsumers"
	"github.com/quantlabhq/tradeplane/src/eventmodels"
	"github.com/quantlabhq/tradeplane/src/supervisor"
)

// Handler serves the read-mostly control surface: service states, the
// account book, order flow, and the risk halt switch.
type Handler struct {
	supervisor *supervisor.Supervisor
	account    *eventconsumers.AccountWorker
	risk       *eventconsumers.RiskWorker
	execution  *eventconsumers.ExecutionWorker
}

func NewHandler(sup *supervisor.Supervisor, account *eventconsumers.AccountWorker, risk *eventconsumers.RiskWorker, execution *eventconsumers.ExecutionWorker) *Handler {
	return &Handler{
		supervisor: sup,
		account:    account,
		risk:       risk,
		execution:  execution,
	}
}

func (h *Handler) SetupHandler(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth)
	router.HandleFunc("/status", h.handleStatus)
	router.HandleFunc("/positions", h.handlePositions)
	router.HandleFunc("/orders", h.handleOrders)
	router.HandleFunc("/risk", h.handleRisk)
	router.HandleFunc("/resume-trading", h.handleResumeTrading)
}

func writeResponse(w http.ResponseWriter, statusCode int, resp eventmodels.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Errorf("statusapi: failed to encode response: %v", err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(404)
		return
	}

	writeResponse(w, http.StatusOK, eventmodels.NewSuccessResponse(map[string]interface{}{
		"mode":       h.supervisor.Mode(),
		"connection": h.supervisor.ConnectionOutcome(),
	}))
}

type statusPayload struct {
	Mode       supervisor.RunMode               `json:"mode"`
	Connection supervisor.ConnectionOutcome     `json:"connection"`
	CanTrade   bool                             `json:"canTrade"`
	Services   []supervisor.ServiceSnapshot     `json:"services"`
	Counters   eventconsumers.ExecutionCounters `json:"counters"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(404)
		return
	}

	payload := statusPayload{
		Mode:       h.supervisor.Mode(),
		Connection: h.supervisor.ConnectionOutcome(),
		CanTrade:   h.supervisor.CanTrade(),
		Services:   h.supervisor.Snapshot(),
		Counters:   h.execution.Counters(),
	}

	writeResponse(w, http.StatusOK, eventmodels.NewSuccessResponse(payload))
}

func (h *Handler) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(404)
		return
	}

	book := h.account.Snapshot()
	writeResponse(w, http.StatusOK, eventmodels.NewSuccessResponse(map[string]interface{}{
		"account":   book.Account,
		"positions": book.Positions,
	}))
}

func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeResponse(w, http.StatusOK, eventmodels.NewSuccessResponse(h.execution.ActiveOrders()))

	case http.MethodPost:
		var req eventmodels.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeResponse(w, http.StatusBadRequest, eventmodels.NewErrorResponse("invalid order request body"))
			return
		}

		if !h.supervisor.CanTrade() {
			writeResponse(w, http.StatusConflict, eventmodels.NewErrorResponse("trading is not available in "+string(h.supervisor.Mode())+" mode"))
			return
		}

		id, err := h.execution.SendOrder(req)
		if err != nil {
			writeResponse(w, http.StatusUnprocessableEntity, eventmodels.NewErrorResponse(err.Error()))
			return
		}

		writeResponse(w, http.StatusOK, eventmodels.NewSuccessResponse(map[string]string{"orderId": id}))

	default:
		w.WriteHeader(404)
	}
}

func (h *Handler) handleRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(404)
		return
	}

	halted, reason := h.risk.Halted()
	writeResponse(w, http.StatusOK, eventmodels.NewSuccessResponse(map[string]interface{}{
		"metrics":    h.risk.Metrics(),
		"halted":     halted,
		"haltReason": reason,
	}))
}

func (h *Handler) handleResumeTrading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(404)
		return
	}

	halted, _ := h.risk.Halted()
	if !halted {
		writeResponse(w, http.StatusOK, eventmodels.NewSuccessResponse(map[string]bool{"resumed": false}))
		return
	}

	h.risk.ResumeTrading()
	log.Infof("statusapi: trading resumed by operator request")
	writeResponse(w, http.StatusOK, eventmodels.NewSuccessResponse(map[string]bool{"resumed": true}))
}
