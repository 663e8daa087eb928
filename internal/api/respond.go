package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/marketplace-core/internal/database"
	"go.uber.org/zap"
)

type errorBody struct {
	Kind    database.Kind `json:"kind"`
	Message string        `json:"message"`
}

var kindStatus = map[database.Kind]int{
	database.KindValidation:          http.StatusBadRequest,
	database.KindNotFound:            http.StatusNotFound,
	database.KindInsufficientFunds:   http.StatusUnprocessableEntity,
	database.KindWalletFrozen:        http.StatusLocked,
	database.KindInsufficientCoupons: http.StatusConflict,
	database.KindInvalidTransition:   http.StatusConflict,
	database.KindExternalDependency:  http.StatusBadGateway,
	database.KindConcurrencyConflict: http.StatusConflict,
	database.KindInternal:            http.StatusInternalServerError,
}

// StatusFor maps an error kind to the HTTP status it is reported with.
func StatusFor(kind database.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

// writeError reports err as its kind plus a message. Internal errors are
// logged and replaced with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := database.KindOf(err)
	message := err.Error()
	if kind == database.KindInternal {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = "internal error"
	}
	s.writeJSON(w, StatusFor(kind), map[string]errorBody{
		"error": {Kind: kind, Message: message},
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return database.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, database.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

const actorHeader = "X-Actor-ID"

// actorID reads the acting staff or admin id. Authentication happens
// upstream; the header is trusted.
func actorID(r *http.Request) (int64, error) {
	raw := r.Header.Get(actorHeader)
	if raw == "" {
		return 0, database.Invalid(actorHeader, "header required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, database.Invalid(actorHeader, "must be a positive integer")
	}
	return id, nil
}

func optionalActor(r *http.Request) (*int64, error) {
	if r.Header.Get(actorHeader) == "" {
		return nil, nil
	}
	id, err := actorID(r)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryInt(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
