// Package api is the HTTP surface over the match repository.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/match/code"
	"github.com/mcdev12/wissel/go/internal/match/engine"
	"github.com/mcdev12/wissel/go/internal/match/repository"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store"
)

const (
	defaultHomeTeam = "Dilettant"
	maxBodyBytes    = 1 << 20
)

// Archiver keeps a permanent record of ended matches.
type Archiver interface {
	Archive(ctx context.Context, snap models.Snapshot) error
}

// CreateRequest is the body of POST /api/match. Durations are in minutes,
// as the coach enters them.
type CreateRequest struct {
	HomeTeam       string   `json:"homeTeam"`
	AwayTeam       string   `json:"awayTeam"`
	Players        []string `json:"players"`
	Keeper         string   `json:"keeper"`
	PlayersOnField int      `json:"playersOnField"`
	HalfDuration   int      `json:"halfDuration"`
	Halves         int      `json:"halves"`
	SubInterval    int      `json:"subInterval"`
}

func (r CreateRequest) setup() engine.Setup {
	settings := models.DefaultMatchSettings()
	if r.PlayersOnField > 0 {
		settings.PlayersOnField = r.PlayersOnField
	}
	if r.HalfDuration > 0 {
		settings.HalfDurationSeconds = r.HalfDuration * 60
	}
	if r.Halves > 0 {
		settings.TotalHalves = r.Halves
	}
	if r.SubInterval > 0 {
		settings.SubIntervalSeconds = r.SubInterval * 60
	}
	home := strings.TrimSpace(r.HomeTeam)
	if home == "" {
		home = defaultHomeTeam
	}
	return engine.Setup{
		HomeTeam: home,
		AwayTeam: strings.TrimSpace(r.AwayTeam),
		Roster:   r.Players,
		Keeper:   r.Keeper,
		Settings: settings,
	}
}

// CreateResponse is returned by POST /api/match.
type CreateResponse struct {
	Code  string          `json:"code"`
	Match models.Snapshot `json:"match"`
}

// LiveResponse is returned by GET /api/match/live.
type LiveResponse struct {
	Matches []models.MatchSummary `json:"matches"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the match endpoints.
type Handler struct {
	repo     *repository.Repository
	archiver Archiver
}

type HandlerOption func(*Handler)

// WithArchiver archives every ended snapshot that is written.
func WithArchiver(a Archiver) HandlerOption {
	return func(h *Handler) { h.archiver = a }
}

func NewHandler(repo *repository.Repository, opts ...HandlerOption) *Handler {
	h := &Handler{repo: repo}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the match routes with mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/match", h.handleCreate)
	mux.HandleFunc("GET /api/match/live", h.handleLive)
	mux.HandleFunc("GET /api/match/{code}", h.handleGet)
	mux.HandleFunc("PUT /api/match/{code}", h.handlePut)
	mux.HandleFunc("GET /api/match/{code}/events", h.handleListEvents)
	mux.HandleFunc("POST /api/match/{code}/events", h.handleAppendEvent)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.repo.Create(r.Context(), req.setup())
	if err != nil {
		writeError(w, r, err, "failed to create match")
		return
	}
	writeJSON(w, http.StatusCreated, CreateResponse{Code: snap.Code, Match: *snap})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	c := code.Canonical(r.PathValue("code"))
	snap, err := h.repo.GetSnapshot(r.Context(), c)
	if err != nil {
		writeError(w, r, err, "failed to get match")
		return
	}

	viewers, err := h.repo.TouchViewer(r.Context(), c, viewerID(r))
	if err != nil {
		log.Warn().Err(err).Str("code", c).Msg("failed to record viewer")
	}
	snap.Viewers = viewers
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	c := code.Canonical(r.PathValue("code"))
	var snap models.Snapshot
	if !decode(w, r, &snap) {
		return
	}
	if err := h.repo.PutSnapshot(r.Context(), c, snap); err != nil {
		writeError(w, r, err, "failed to save match")
		return
	}

	if h.archiver != nil && snap.DerivedStatus() == models.MatchStatusEnded {
		snap.Code = c
		if err := h.archiver.Archive(r.Context(), snap); err != nil {
			log.Error().Err(err).Str("code", c).Msg("failed to archive ended match")
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.repo.ListEvents(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, r, err, "failed to get events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.MatchEvent
	if !decode(w, r, &ev) {
		return
	}
	if !ev.Type.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown event type"})
		return
	}
	// The server clock is authoritative for event times.
	ev.At = time.Time{}
	stored, err := h.repo.AppendEvent(r.Context(), r.PathValue("code"), ev)
	if err != nil {
		writeError(w, r, err, "failed to add event")
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	matches, err := h.repo.Live(r.Context())
	if err != nil {
		writeError(w, r, err, "failed to list live matches")
		return
	}
	writeJSON(w, http.StatusOK, LiveResponse{Matches: matches})
}

// viewerID identifies a viewer by the client address the proxy reports.
func viewerID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return "unknown"
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

var validationErrors = []error{
	engine.ErrInvalidSettings,
	engine.ErrInsufficientRoster,
	engine.ErrDuplicatePlayer,
	engine.ErrUnknownPlayer,
}

func writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Match not found"})
		return
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}
	log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg(msg)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
