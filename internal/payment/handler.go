package payment

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Response is the body of every /pay response.
type Response struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// Handler serves the payment API.
type Handler struct {
	processor *Processor
	logger    log.FieldLogger
	mux       *http.ServeMux
}

// NewHandler creates the HTTP handler for processor.
func NewHandler(processor *Processor, logger log.FieldLogger) *Handler {
	if logger == nil {
		logger = log.StandardLogger()
	}

	h := &Handler{
		processor: processor,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	h.mux.HandleFunc("/pay", h.pay)
	h.mux.HandleFunc("/health", h.health)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	result, err := h.processor.Process(r.Context())
	if err != nil {
		h.writeResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeResponse(w, result, http.StatusOK)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.processor.Status()); err != nil {
		h.logger.WithError(err).Warn("writing health response")
	}
}

func (h *Handler) writeResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := Response{Message: message, Success: statusCode <= 299}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.WithError(err).Warn("writing payment response")
	}
}
