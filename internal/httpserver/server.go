package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/helixops/promoter/internal/approval"
	"github.com/helixops/promoter/internal/auth"
	"github.com/helixops/promoter/internal/models"
	"github.com/helixops/promoter/internal/orchestrator"
	"github.com/helixops/promoter/internal/stage"
)

type Server struct {
	orch       *orchestrator.Orchestrator
	authSecret string
}

func New(orch *orchestrator.Orchestrator, authSecret string) *Server {
	return &Server{orch: orch, authSecret: authSecret}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(auth.Middleware(s.authSecret))

	r.Post("/promotions", s.handleRequestPromotion)
	r.Get("/promotions", s.handleListPromotions)
	r.Get("/promotions/{id}", s.handleGetPromotion)
	r.Post("/promotions/{id}/approve", s.handleApprove)
	r.Post("/promotions/{id}/reject", s.handleReject)
	r.Post("/promotions/{id}/rollback", s.handleRollback)
	r.Get("/stages/{stage}/stats", s.handleStageStats)
	r.Get("/stages/{stage}/releases", s.handleReleaseHistory)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/healthz", s.handleHealthz)

	return r
}

func (s *Server) handleRequestPromotion(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.RequestInput
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = principal(r)
	}
	promo, err := s.orch.RequestPromotion(r.Context(), req)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	status := models.PromotionStatus(r.URL.Query().Get("status"))
	toStage := models.Stage(r.URL.Query().Get("toStage"))
	respondJSON(w, http.StatusOK, s.orch.ListPromotions(status, toStage))
}

func (s *Server) handleGetPromotion(w http.ResponseWriter, r *http.Request) {
	promo, err := s.orch.GetPromotion(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, promo)
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Comment  string `json:"comment,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Approver == "" {
		req.Approver = principal(r)
	}
	if req.Approver == "" {
		respondError(w, http.StatusBadRequest, "approver required")
		return
	}
	promo, err := s.orch.ApprovePromotion(r.Context(), chi.URLParam(r, "id"), req.Approver, req.Comment)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, promo)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Approver == "" {
		req.Approver = principal(r)
	}
	if req.Approver == "" {
		respondError(w, http.StatusBadRequest, "approver required")
		return
	}
	promo, err := s.orch.RejectPromotion(r.Context(), chi.URLParam(r, "id"), req.Approver, req.Comment)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, promo)
}

type rollbackRequest struct {
	TriggeredBy string `json:"triggeredBy"`
	Reason      string `json:"reason"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = principal(r)
	}
	if req.TriggeredBy == "" {
		respondError(w, http.StatusBadRequest, "triggeredBy required")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual rollback"
	}
	promo, err := s.orch.RollbackPromotion(r.Context(), chi.URLParam(r, "id"), req.TriggeredBy, req.Reason)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, promo)
}

func (s *Server) handleStageStats(w http.ResponseWriter, r *http.Request) {
	st := models.Stage(chi.URLParam(r, "stage"))
	if !models.ValidStage(st) {
		respondError(w, http.StatusNotFound, "unknown stage")
		return
	}
	respondJSON(w, http.StatusOK, s.orch.GetStageStats(st))
}

func (s *Server) handleReleaseHistory(w http.ResponseWriter, r *http.Request) {
	st := models.Stage(chi.URLParam(r, "stage"))
	if !models.ValidStage(st) {
		respondError(w, http.StatusNotFound, "unknown stage")
		return
	}
	history := s.orch.GetReleaseHistory(st)
	if history == nil {
		history = []models.Release{}
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.orch.GetMetrics())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func principal(r *http.Request) string {
	if p := auth.FromContext(r.Context()); p != nil {
		return p.Subject
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrPromotionNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, approval.ErrNoPendingApproval):
		return http.StatusBadRequest
	case errors.Is(err, approval.ErrNoPolicy),
		errors.Is(err, orchestrator.ErrAlreadyRolledBack):
		return http.StatusConflict
	case errors.Is(err, stage.ErrNoActiveRelease),
		errors.Is(err, stage.ErrNoPriorRelease):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
