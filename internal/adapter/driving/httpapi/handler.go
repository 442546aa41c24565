// Package httpapi is the loopback control surface for a local UI. It drives
// the call service; the connection and response codes it returns still
// travel between the two parties by hand.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/service"
)

type Handler struct {
	Call         *service.CallService
	Captions     *service.CaptionService
	Translations *service.TranslationService
}

func NewHandler(call *service.CallService, captions *service.CaptionService, translations *service.TranslationService) *Handler {
	return &Handler{
		Call:         call,
		Captions:     captions,
		Translations: translations,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/status", h.Status)
	r.Route("/call", func(r chi.Router) {
		r.Post("/role", h.SetRole)
		r.Post("/media", h.AcquireMedia)
		r.Post("/offer", h.CreateOffer)
		r.Post("/answer", h.ApplyOffer)
		r.Post("/accept", h.ApplyAnswer)
		r.Post("/hangup", h.HangUp)
	})
	r.Put("/captions/language", h.SetLanguage)

	return r
}

type statusResponse struct {
	SessionID      string `json:"session_id"`
	Role           string `json:"role"`
	Phase          string `json:"phase"`
	LocalCaption   string `json:"local_caption"`
	RemoteCaption  string `json:"remote_caption"`
	RemoteLanguage string `json:"remote_language,omitempty"`
	Translation    string `json:"translation"`
	TargetLanguage string `json:"target_language"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		SessionID:      h.Call.SessionID().String(),
		Role:           h.Call.Role().String(),
		Phase:          h.Call.Phase().String(),
		LocalCaption:   h.Captions.LocalCaption(),
		Translation:    h.Translations.Translation(),
		TargetLanguage: h.Translations.TargetLanguage(),
	}
	if remote, ok := h.Call.RemoteCaption(); ok {
		resp.RemoteCaption = remote.Text
		resp.RemoteLanguage = remote.Language
	}
	writeJSON(w, http.StatusOK, resp)
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := h.Call.SetRole(domain.Role(req.Role)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AcquireMedia(w http.ResponseWriter, r *http.Request) {
	if err := h.Call.AcquireMedia(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type codeResponse struct {
	Code string `json:"code"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	code, err := h.Call.CreateOffer(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, codeResponse{Code: code})
}

func (h *Handler) ApplyOffer(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	code, err := h.Call.ApplyOffer(r.Context(), req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, codeResponse{Code: code})
}

func (h *Handler) ApplyAnswer(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := h.Call.ApplyAnswer(req.Code); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HangUp(w http.ResponseWriter, r *http.Request) {
	h.Call.HangUp()
	w.WriteHeader(http.StatusNoContent)
}

type languageRequest struct {
	Language string `json:"language"`
}

func (h *Handler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Language == "" {
		writeError(w, http.StatusBadRequest, "language is required")
		return
	}
	h.Translations.SetTargetLanguage(req.Language)
	w.WriteHeader(http.StatusNoContent)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrRoleMismatch),
		errors.Is(err, domain.ErrAlreadyOffered),
		errors.Is(err, domain.ErrAlreadyApplied),
		errors.Is(err, domain.ErrNoOfferYet),
		errors.Is(err, domain.ErrWrongNegotiationState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrMediaAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrSessionEnded):
		status = http.StatusGone
	case errors.Is(err, domain.ErrGatheringTimeout):
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
