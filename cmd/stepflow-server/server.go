package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stepflow/stepflow/internal/adapters/membership"
	"github.com/stepflow/stepflow/internal/app/dto"
	"github.com/stepflow/stepflow/internal/app/services"
	"github.com/stepflow/stepflow/internal/app/usecases"
	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/internal/core/quota"
	"github.com/stepflow/stepflow/internal/logging"
	"github.com/stepflow/stepflow/pkg/validation"
)

type server struct {
	lifecycle *usecases.LifecycleService
	repo      usecases.FlowRepository
	tiers     *membership.MemoryService
	router    *usecases.Router
	sessions  *services.SessionService
	log       *slog.Logger
}

func newServer(
	lifecycle *usecases.LifecycleService,
	repo usecases.FlowRepository,
	tiers *membership.MemoryService,
	router *usecases.Router,
	sessions *services.SessionService,
	log *slog.Logger,
) *server {
	if log == nil {
		log = logging.NewNop()
	}
	return &server{
		lifecycle: lifecycle,
		repo:      repo,
		tiers:     tiers,
		router:    router,
		sessions:  sessions,
		log:       log,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/debug/vars", expvar.Handler())

	// Builder-facing API: requires a resolved identity.
	r.Route("/api/flows", func(r chi.Router) {
		r.Use(s.requireIdentity)
		r.Post("/", s.handleCreateFlow)
		r.Get("/", s.handleListFlows)
		r.Route("/{flowID}", func(r chi.Router) {
			r.Get("/", s.handleGetFlow)
			r.Put("/", s.handlePutFlow)
			r.Delete("/", s.handleDeleteFlow)
			r.Post("/validate", s.handleValidateFlow)
			r.Post("/activate", s.handleTransition(s.lifecycle.Activate))
			r.Post("/deactivate", s.handleTransition(s.lifecycle.Deactivate))
			r.Post("/archive", s.handleTransition(s.lifecycle.Archive))
			r.Post("/restore", s.handleTransition(s.lifecycle.Restore))
		})
	})

	// Membership changes come from the payment collaborator; admin only.
	r.Route("/api/memberships/{ownerID}", func(r chi.Router) {
		r.Use(s.requireIdentity, s.requireAdmin)
		r.Post("/upgrade", s.handleMembership(s.tiers.Upgrade))
		r.Post("/downgrade", s.handleMembership(s.tiers.Downgrade))
	})

	// Visitor-facing traversal API: no identity, visitors are anonymous.
	r.Post("/api/next-step", s.handleNextStep)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleStartSession)
		r.Post("/{sessionID}/step", s.handleSessionStep)
	})

	return r
}

// identity middleware

type contextKey string

const identityKey contextKey = "identity"

// requireIdentity trusts the upstream gateway's identity headers. The
// server never does its own authentication.
func (s *server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			s.writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		level := usecases.AccessLevel(r.Header.Get("X-Access-Level"))
		if level != usecases.AccessAdmin {
			level = usecases.AccessCustomer
		}
		identity := usecases.Identity{UserID: userID, AccessLevel: level}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), identityKey, identity)))
	})
}

func identityFrom(r *http.Request) usecases.Identity {
	identity, _ := r.Context().Value(identityKey).(usecases.Identity)
	return identity
}

func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identityFrom(r).AccessLevel != usecases.AccessAdmin {
			s.writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// flow handlers

func (s *server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	f, err := s.lifecycle.CreateFlow(r.Context(), identityFrom(r).UserID, req.Title)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, f)
}

func (s *server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.repo.ListByOwner(r.Context(), identityFrom(r).UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if flows == nil {
		flows = []*flow.Flow{}
	}
	s.writeJSON(w, http.StatusOK, flows)
}

func (s *server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, err := s.ownedFlow(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

// handlePutFlow replaces the flow definition with the submitted document.
// Structural graph checks run at activation, not here, so drafts may be
// saved in any intermediate shape that is still a well-formed document.
func (s *server) handlePutFlow(w http.ResponseWriter, r *http.Request) {
	existing, err := s.ownedFlow(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	var doc validation.FlowDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	doc.ID = existing.ID
	doc.OwnerID = existing.OwnerID
	if doc.Status == "" {
		doc.Status = string(existing.Status)
	}
	if err := validation.ValidateDocument(&doc); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	f, err := doc.ToFlow()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = existing.UpdatedAt
	// Status changes go through the lifecycle endpoints.
	f.Status = existing.Status

	if err := s.repo.Save(r.Context(), f); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	f, err := s.ownedFlow(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.repo.Delete(r.Context(), f.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleValidateFlow(w http.ResponseWriter, r *http.Request) {
	f, err := s.ownedFlow(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	tier, err := s.tiers.Tier(r.Context(), f.OwnerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := validation.ValidateFlow(f, quota.LimitsFor(tier)); err != nil {
		var violations validation.Violations
		if errors.As(err, &violations) {
			s.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"valid":      false,
				"violations": violations,
			})
			return
		}
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

func (s *server) handleTransition(op func(ctx context.Context, flowID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := s.ownedFlow(r)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if err := op(r.Context(), f.ID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		updated, err := s.repo.Get(r.Context(), f.ID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, updated)
	}
}

func (s *server) handleMembership(op func(ctx context.Context, ownerID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := chi.URLParam(r, "ownerID")
		if err := op(r.Context(), ownerID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// traversal handlers

func (s *server) handleNextStep(w http.ResponseWriter, r *http.Request) {
	var req dto.NextStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := s.repo.Get(r.Context(), req.FlowID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	result, err := s.router.NextStep(f, req.CurrentID, req.VisitorID, req.Responses)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FlowID    string `json:"flow_id"`
		VisitorID string `json:"visitor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	f, err := s.repo.Get(r.Context(), req.FlowID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	session, err := s.sessions.Start(r.Context(), req.FlowID, req.VisitorID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	result, err := s.router.NextStep(f, "", req.VisitorID, nil)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if result.Node != nil {
		if err := s.sessions.Advance(r.Context(), session.ID, result.Node.ID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		session.CurrentID = result.Node.ID
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session": session,
		"step":    result,
	})
}

func (s *server) handleSessionStep(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req struct {
		Responses dto.Responses `json:"responses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if len(req.Responses) > 0 {
		if err := s.sessions.Submit(r.Context(), sessionID, req.Responses); err != nil {
			s.writeDomainError(w, err)
			return
		}
		for k, v := range req.Responses {
			session.Responses[k] = v
		}
	}

	f, err := s.repo.Get(r.Context(), session.FlowID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	result, err := s.router.NextStep(f, session.CurrentID, session.VisitorID, session.Responses)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if result.End {
		_ = s.sessions.End(r.Context(), sessionID)
	} else if err := s.sessions.Advance(r.Context(), sessionID, result.Node.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// helpers

// ownedFlow loads the flow from the URL and enforces ownership; admins
// may touch any flow.
func (s *server) ownedFlow(r *http.Request) (*flow.Flow, error) {
	f, err := s.repo.Get(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		return nil, err
	}
	identity := identityFrom(r)
	if identity.AccessLevel != usecases.AccessAdmin && f.OwnerID != identity.UserID {
		// Hide other owners' flows entirely.
		return nil, flow.ErrFlowNotFound
	}
	return f, nil
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "err", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain errors onto HTTP statuses.
func (s *server) writeDomainError(w http.ResponseWriter, err error) {
	var violations validation.Violations
	switch {
	case errors.Is(err, flow.ErrFlowNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, usecases.ErrQuotaExceeded):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, flow.ErrIllegalTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &violations):
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":      "flow failed validation",
			"violations": violations,
		})
	case errors.Is(err, dto.ErrUnknownNode),
		errors.Is(err, dto.ErrMissingFlowID),
		errors.Is(err, dto.ErrMissingVisitorID):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dto.ErrRoutingLoop),
		errors.Is(err, dto.ErrMalformedBlock),
		errors.Is(err, dto.ErrNoDefaultBranch),
		errors.Is(err, dto.ErrConditionEvaluation):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.log.Error("internal error", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
