package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"simplexbridge/pkg/stream"
)

const maxBodyBytes = 1 << 20

// Handler exposes the boundary routes and the subscriber stream. The
// simulate route exists only outside production.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /address", s.handleAddress)
	mux.HandleFunc("GET /contacts", s.handleContacts)
	if !s.cfg.Production() {
		mux.HandleFunc("POST /test/simulate_message", s.handleSimulate)
	}
	mux.Handle("/", stream.Handler(s.registry, s.log))
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.Health())
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	if err := s.SendMessage(r.Context(), req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, successResponse{Success: true})
}

func (s *Service) handleAddress(w http.ResponseWriter, r *http.Request) {
	raw, err := s.Address(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, addressResponse{Address: raw})
}

func (s *Service) handleContacts(w http.ResponseWriter, r *http.Request) {
	raw, err := s.Contacts(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, raw)
}

func (s *Service) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	if err := s.SimulateIncoming(r.Context(), req); err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, successResponse{Success: true})
}

// decodeBody reads one JSON object. An empty body decodes to the zero value
// so field validation reports what is missing.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &Error{Category: ErrorInvalidInput, Message: "invalid JSON body", Err: err}
	}
	return nil
}

func (s *Service) respondError(w http.ResponseWriter, err error) {
	category := CategoryOf(err)
	message := err.Error()
	if category == ErrorInternal {
		message = "internal error"
		s.log.Error("Unhandled request error", "error", err)
	}
	s.respond(w, StatusCode(err), errorResponse{Error: message, Code: category})
}

func (s *Service) respond(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}
