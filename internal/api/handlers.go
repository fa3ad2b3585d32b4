package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/genforge-dev/genforge/pkg/generation"
	"github.com/genforge-dev/genforge/pkg/pipeline"
)

// version is set via -ldflags at build time
var version = "dev"

// SetVersion sets the version string (called from main).
func SetVersion(v string) {
	version = v
}

// Response types

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitRequest is the request body for creating a generation (§6).
type SubmitRequest struct {
	Prompt             string         `json:"prompt"`
	ProjectID          string         `json:"project_id,omitempty"`
	IsIteration        bool           `json:"is_iteration,omitempty"`
	ParentGenerationID string         `json:"parent_generation_id,omitempty"`
	TechStack          string         `json:"tech_stack,omitempty"`
	Domain             string         `json:"domain,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	Enhanced           bool           `json:"enhanced,omitempty"`
}

// IterateRequest is the request body for iterating on a parent generation
// (§6).
type IterateRequest struct {
	ParentGenerationID  string `json:"parent_generation_id"`
	ModificationPrompt  string `json:"modification_prompt"`
	TechStack           string `json:"tech_stack,omitempty"`
}

// GenerationEnvelope is the response envelope shared by Submit and Iterate
// (§6): Iterate sets IsIteration true.
type GenerationEnvelope struct {
	GenerationID       string `json:"generation_id"`
	ProjectID          string `json:"project_id"`
	Status             string `json:"status"`
	SSEToken           string `json:"sse_token"`
	AutoCreatedProject bool   `json:"auto_created_project"`
	ProjectName        string `json:"project_name"`
	ProjectDomain      string `json:"project_domain"`
	IsIteration        bool   `json:"is_iteration,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "genforge-service"})
}

// handleSubmit implements Submit (§6): resolves or creates a project,
// allocates the next version, creates the pending Generation row, issues an
// SSE token, and kicks off the orchestrator in the background.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	userID := userIDFromRequest(r)
	ctx := r.Context()

	var (
		project     *generation.Project
		autoCreated bool
	)
	if req.ProjectID != "" {
		p, err := s.projects.GetByID(ctx, req.ProjectID)
		if err != nil || p == nil {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		project = p
	} else {
		p, err := s.autoprojects.Resolve(ctx, userID, req.Prompt, "submit", req.Context)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve project: "+err.Error())
			return
		}
		project = p
		autoCreated = true
	}

	version, err := s.projects.NextVersion(ctx, project.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to allocate version: "+err.Error())
		return
	}

	genID := uuid.NewString()
	gen := &generation.Generation{
		ID:          genID,
		UserID:      userID,
		ProjectID:   project.ID,
		Version:     version,
		Prompt:      req.Prompt,
		Context:     req.Context,
		Status:      generation.StatusPending,
		IsIteration: req.IsIteration,
	}
	if req.IsIteration {
		gen.ParentGenerationID = req.ParentGenerationID
	}
	if err := s.generations.Create(ctx, gen); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create generation: "+err.Error())
		return
	}

	token, err := s.gateway.IssueToken(userID, genID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue stream token")
		return
	}

	sub := pipeline.Submission{
		ProjectID:          project.ID,
		GenerationID:       genID,
		Version:            version,
		Prompt:             req.Prompt,
		Context:            req.Context,
		EnhancedMode:       req.Enhanced,
		IsIteration:        req.IsIteration,
		ParentGenerationID: req.ParentGenerationID,
	}
	go s.orchestrator.Run(context.Background(), sub)

	writeJSON(w, http.StatusAccepted, GenerationEnvelope{
		GenerationID:       genID,
		ProjectID:          project.ID,
		Status:             string(generation.StatusPending),
		SSEToken:           token,
		AutoCreatedProject: autoCreated,
		ProjectName:        project.Name,
		ProjectDomain:      project.Domain,
	})
}

// handleIterate implements Iterate (§6): a new generation version derived
// from a completed parent via the IterationEngine.
func (s *Server) handleIterate(w http.ResponseWriter, r *http.Request) {
	var req IterateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParentGenerationID == "" || req.ModificationPrompt == "" {
		writeError(w, http.StatusBadRequest, "parent_generation_id and modification_prompt are required")
		return
	}

	ctx := r.Context()
	userID := userIDFromRequest(r)

	parent, err := s.generations.GetByID(ctx, req.ParentGenerationID)
	if err != nil || parent == nil {
		writeError(w, http.StatusNotFound, "parent generation not found")
		return
	}
	if parent.Status != generation.StatusCompleted {
		writeError(w, http.StatusConflict, "parent generation is not completed")
		return
	}

	project, err := s.projects.GetByID(ctx, parent.ProjectID)
	if err != nil || project == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	version, err := s.projects.NextVersion(ctx, project.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to allocate version: "+err.Error())
		return
	}

	genID := uuid.NewString()
	gen := &generation.Generation{
		ID:                 genID,
		UserID:             userID,
		ProjectID:          project.ID,
		Version:            version,
		Prompt:             req.ModificationPrompt,
		Context:            map[string]any{},
		Status:             generation.StatusPending,
		IsIteration:        true,
		ParentGenerationID: req.ParentGenerationID,
	}
	if err := s.generations.Create(ctx, gen); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create generation: "+err.Error())
		return
	}

	token, err := s.gateway.IssueToken(userID, genID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue stream token")
		return
	}

	sub := pipeline.Submission{
		ProjectID:          project.ID,
		GenerationID:       genID,
		Version:            version,
		Prompt:             req.ModificationPrompt,
		Context:            map[string]any{},
		IsIteration:        true,
		ParentGenerationID: req.ParentGenerationID,
	}
	go s.orchestrator.Run(context.Background(), sub)

	writeJSON(w, http.StatusAccepted, GenerationEnvelope{
		GenerationID:       genID,
		ProjectID:          project.ID,
		Status:             string(generation.StatusPending),
		SSEToken:           token,
		AutoCreatedProject: false,
		ProjectName:        project.Name,
		ProjectDomain:      project.Domain,
		IsIteration:        true,
	})
}

// handleGetGeneration returns one generation's current record.
func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "generationID")
	gen, err := s.generations.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if gen == nil {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}
	writeJSON(w, http.StatusOK, gen)
}

// handleListGenerations lists every generation belonging to a project.
func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	gens, err := s.generations.ListByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gens)
}

// handleStream implements Stream (§6): token-gated SSE delivery, delegated
// entirely to the StreamGateway.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing stream token")
		return
	}
	s.gateway.Serve(w, r, token)
}

// userIDFromRequest resolves the caller's user id from the X-User-Id
// header, defaulting to a fixed anonymous identity for single-tenant
// deployments that do not front this service with their own auth layer.
func userIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
