package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/identity"
	"github.com/ashureev/recovery-room/internal/middleware"
	"github.com/ashureev/recovery-room/internal/report"
	"github.com/ashureev/recovery-room/internal/simulation"
	"github.com/go-chi/chi/v5"
)

// SessionHandler serves the per-tab simulation session.
type SessionHandler struct {
	sessions       *simulation.Manager
	limiter        *middleware.RateLimiter
	originPatterns []string
	logger         *slog.Logger
}

// NewSessionHandler creates a session handler. allowedOrigins are the
// frontend origins permitted to open the snapshot websocket.
func NewSessionHandler(sessions *simulation.Manager, limiter *middleware.RateLimiter, allowedOrigins []string, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		sessions:       sessions,
		limiter:        limiter,
		originPatterns: originPatterns(allowedOrigins),
		logger:         logger,
	}
}

// RegisterRoutes registers the scenario, session and stream routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/scenarios", h.Scenarios)
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/start", h.Start)
		r.Post("/turns", h.Submit)
		r.Post("/reset", h.Reset)
		r.Get("/report", h.Report)
		r.Get("/report.md", h.ReportMarkdown)
		r.Post("/survey", h.Survey)
	})
	r.Get("/ws/session", h.Stream)
}

func (h *SessionHandler) session(r *http.Request) *simulation.Session {
	ctx := r.Context()
	return h.sessions.Session(identity.UserIDFromContext(ctx), identity.TabIDFromContext(ctx))
}

// runScoped binds the request to the run the client says it is playing, so
// a tab that missed a reset cannot act on the next encounter.
func runScoped(r *http.Request) context.Context {
	return simulation.WithExpectedRun(r.Context(), identity.RunIDFromContext(r.Context()))
}

// Scenarios lists the scenario catalog.
func (h *SessionHandler) Scenarios(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"scenarios": domain.Scenarios()})
}

// Get returns the current session snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.session(r).Snapshot())
}

type startRequest struct {
	Scenario string `json:"scenario"`
}

// Start begins an encounter with the chosen scenario.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	scenario, err := domain.ParseScenario(req.Scenario)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	s := h.session(r)
	if err := s.Start(r.Context(), scenario); err != nil {
		h.writeSessionError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Encounter started",
		"student", identity.UsernameFromContext(r.Context()),
		"scenario", scenario,
		"ip", identity.IPFromRequest(r))
	JSON(w, http.StatusAccepted, s.Snapshot())
}

type turnRequest struct {
	Text string `json:"text"`
}

// Submit sends a student turn to the guest.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	// Keyed by student only, so rotating tab IDs does not bypass the limit.
	// Only accepted turns are charged.
	userID := identity.UserIDFromContext(r.Context())
	if h.limiter.Exhausted(userID) {
		h.logger.WarnContext(r.Context(), "Turn rate limit exceeded",
			"student", identity.UsernameFromContext(r.Context()),
			"ip", identity.IPFromRequest(r))
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req turnRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s := h.session(r)
	if err := s.Submit(runScoped(r), req.Text); err != nil {
		h.writeSessionError(w, r, err)
		return
	}
	h.limiter.Record(userID)
	JSON(w, http.StatusAccepted, s.Snapshot())
}

// Reset discards the encounter and returns to scenario selection.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	s.Reset()
	JSON(w, http.StatusOK, s.Snapshot())
}

// Report returns the compiled report, 202 while it is compiling and 404
// before the encounter has ended.
func (h *SessionHandler) Report(w http.ResponseWriter, r *http.Request) {
	rec, survey, _, ok := h.report(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]any{"report": rec, "survey": survey})
}

// ReportMarkdown exports the report, and the survey when submitted, as a
// Markdown document.
func (h *SessionHandler) ReportMarkdown(w http.ResponseWriter, r *http.Request) {
	rec, survey, runID, ok := h.report(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="recovery-room-%s.md"`, runID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(report.Markdown(rec, survey))); err != nil {
		h.logger.DebugContext(r.Context(), "Failed to write report", "error", err)
	}
}

func (h *SessionHandler) report(w http.ResponseWriter, r *http.Request) (domain.ReportRecord, *domain.SurveyRecord, string, bool) {
	st := h.session(r).State()
	if st.Report != nil {
		return *st.Report, st.Survey, st.RunID, true
	}
	if st.Compiling() {
		JSON(w, http.StatusAccepted, map[string]string{"status": "compiling"})
	} else {
		Error(w, http.StatusNotFound, "no report for this session")
	}
	return domain.ReportRecord{}, nil, "", false
}

type surveyRequest struct {
	Ratings    [5]int `json:"ratings"`
	Reflection string `json:"reflection"`
}

// Survey records the self-reflection survey.
func (h *SessionHandler) Survey(w http.ResponseWriter, r *http.Request) {
	var req surveyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.session(r).SubmitSurvey(runScoped(r), domain.SurveyRecord{
		Ratings:    req.Ratings,
		Reflection: req.Reflection,
	})
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, simulation.ErrEmptyInput),
		errors.Is(err, domain.ErrSurveyRating),
		errors.Is(err, domain.ErrSurveyReflection),
		errors.Is(err, domain.ErrUnknownScenario):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, simulation.ErrNotActive),
		errors.Is(err, simulation.ErrRequestInFlight),
		errors.Is(err, simulation.ErrAlreadyStarted),
		errors.Is(err, simulation.ErrReportNotReady),
		errors.Is(err, simulation.ErrSurveySubmitted),
		errors.Is(err, simulation.ErrRunMismatch):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, simulation.ErrSessionClosed):
		Error(w, http.StatusGone, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Session operation failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
