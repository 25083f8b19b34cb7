package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ghda-saas/ruleengine/internal/logger"
	"github.com/ghda-saas/ruleengine/internal/metrics"
	"github.com/ghda-saas/ruleengine/multitenantengine"
	"github.com/ghda-saas/ruleengine/rules"
)

type Server struct {
	db            *sql.DB
	engineManager *multitenantengine.MultiTenantEngineManager
	metrics       *metrics.EvaluationMetrics
	router        *chi.Mux
}

func NewServer(databaseURL string) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewServerWithDB(db)
}

// NewServerWithDB builds the server on an already-open database handle.
func NewServerWithDB(db *sql.DB) (*Server, error) {
	engineManager := multitenantengine.NewMultiTenantEngineManager(db, standardDerivedFields(), slog.Default())

	slog.Info("loading tenants from database")
	if err := engineManager.LoadAllTenants(); err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	slog.Info("tenants loaded", "count", len(engineManager.ListTenants()))

	s := &Server{
		db:            db,
		engineManager: engineManager,
		metrics:       metrics.New(),
	}
	s.setupRoutes()
	return s, nil
}

// standardDerivedFields are the computed report fields every tenant's
// engine exposes under the derived.* namespace. Extractors do not always
// emit these rates directly, and several shipped rules key off them.
func standardDerivedFields() []rules.DerivedField {
	return []rules.DerivedField{
		{
			Name:       "attendance_rate",
			Expression: `has(report.beneficiaries) && has(report.beneficiaries.expected_count) && report.beneficiaries.expected_count > 0 ? double(report.beneficiaries.actual_count) / double(report.beneficiaries.expected_count) : 0.0`,
		},
		{
			Name:       "attendance_gap",
			Expression: `has(report.beneficiaries) && has(report.beneficiaries.expected_count) ? report.beneficiaries.expected_count - report.beneficiaries.actual_count : 0`,
		},
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
			r.Post("/reload", s.handleReloadTenant)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"tenantsLoaded": len(s.engineManager.ListTenants()),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenantId is required", nil)
		return
	}
	if req.Report == nil {
		respondError(w, http.StatusBadRequest, "report is required", nil)
		return
	}

	engine, err := s.engineManager.GetEngine(req.TenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	startTime := time.Now()

	var (
		findings []*rules.Finding
		ruleErrs []*rules.RuleError
	)
	if len(req.Rules) > 0 {
		findings = make([]*rules.Finding, 0, len(req.Rules))
		for _, ruleID := range req.Rules {
			finding, err := engine.EvaluateRule(ruleID, req.Report)
			if err != nil {
				var ruleErr *rules.RuleError
				if errors.As(err, &ruleErr) {
					ruleErrs = append(ruleErrs, ruleErr)
				} else {
					ruleErrs = append(ruleErrs, &rules.RuleError{RuleID: ruleID, Err: err})
				}
				continue
			}
			if finding != nil {
				findings = append(findings, finding)
			}
		}
	} else {
		findings, ruleErrs = engine.EvaluateAll(req.Report)
	}

	elapsed := time.Since(startTime)
	s.metrics.ObserveEvaluation(req.TenantID, findings, ruleErrs, elapsed)

	for _, ruleErr := range ruleErrs {
		slog.Warn("rule evaluation failed",
			"tenant_id", req.TenantID,
			"rule_id", ruleErr.RuleID,
			"error", ruleErr.Err,
		)
	}

	if req.ReportID != "" && len(findings) > 0 {
		store := rules.NewPostgresFindingStore(s.db, req.TenantID)
		if err := store.SaveBatch(req.ReportID, findings); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to persist findings", err)
			return
		}
	}

	errStrings := make([]string, 0, len(ruleErrs))
	for _, ruleErr := range ruleErrs {
		errStrings = append(errStrings, ruleErr.Error())
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"findings":       findings,
		"errors":         errStrings,
		"evaluationTime": elapsed.String(),
	})
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
		SELECT id, name, status, created_at, updated_at
		FROM tenants
		ORDER BY created_at DESC
	`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tenants", err)
		return
	}
	defer rows.Close()

	tenants := []TenantResponse{}
	for rows.Next() {
		var t TenantResponse
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to scan tenant", err)
			return
		}
		tenants = append(tenants, t)
	}

	respondJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	tenantID := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		VALUES ($1, $2, 'active', NOW(), NOW())
	`, tenantID, req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create tenant", err)
		return
	}

	if err := s.engineManager.CreateTenant(tenantID, multitenantengine.StoreSource(s.db, tenantID)); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to initialize tenant engine", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":   tenantID,
		"name": req.Name,
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" || len(req.Condition) == 0 {
		respondError(w, http.StatusBadRequest, "name and condition are required", nil)
		return
	}
	if !s.engineManager.HasTenant(tenantID) {
		respondError(w, http.StatusNotFound, "tenant not found", nil)
		return
	}

	condition, err := rules.DecodeCondition(req.Condition)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid condition", err)
		return
	}

	rule := &rules.Rule{
		ID:             req.RuleID,
		Version:        req.Version,
		Name:           req.Name,
		Category:       req.Category,
		Severity:       rules.Severity(req.Severity),
		Condition:      condition,
		FlagCode:       req.Flag,
		Message:        req.Message,
		Remediation:    req.Remediation,
		EvidenceFields: req.EvidenceFields,
		Active:         req.Active,
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if err := multitenantengine.ValidateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "rule validation failed", err)
		return
	}

	store := rules.NewPostgresRuleStore(s.db, tenantID)
	if err := store.Add(rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	if err := s.engineManager.ReloadTenant(tenantID); err != nil {
		respondError(w, http.StatusInternalServerError, "rule stored but engine reload failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	store := rules.NewPostgresRuleStore(s.db, tenantID)
	ruleSet, err := store.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if ruleSet == nil {
		ruleSet = []*rules.Rule{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"rules": ruleSet})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	store := rules.NewPostgresRuleStore(s.db, tenantID)
	rule, err := store.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	store := rules.NewPostgresRuleStore(s.db, tenantID)
	rule, err := store.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	if req.Version != nil {
		rule.Version = *req.Version
	}
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Category != nil {
		rule.Category = *req.Category
	}
	if req.Severity != nil {
		rule.Severity = rules.Severity(*req.Severity)
	}
	if len(req.Condition) > 0 {
		condition, err := rules.DecodeCondition(req.Condition)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid condition", err)
			return
		}
		rule.Condition = condition
	}
	if req.Flag != nil {
		rule.FlagCode = *req.Flag
	}
	if req.Message != nil {
		rule.Message = *req.Message
	}
	if req.Remediation != nil {
		rule.Remediation = *req.Remediation
	}
	if req.EvidenceFields != nil {
		rule.EvidenceFields = req.EvidenceFields
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := multitenantengine.ValidateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "rule validation failed", err)
		return
	}

	if err := store.Update(rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update rule", err)
		return
	}

	if err := s.engineManager.ReloadTenant(tenantID); err != nil {
		respondError(w, http.StatusInternalServerError, "rule updated but engine reload failed", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	store := rules.NewPostgresRuleStore(s.db, tenantID)
	if err := store.Delete(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	if err := s.engineManager.ReloadTenant(tenantID); err != nil {
		respondError(w, http.StatusInternalServerError, "rule deleted but engine reload failed", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReloadTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	if err := s.engineManager.ReloadTenant(tenantID); err != nil {
		if errors.Is(err, multitenantengine.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to reload tenant", err)
		return
	}

	snapshot, _ := s.engineManager.GetTenant(tenantID)
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"rules":  snapshot.RuleCount,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		slog.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	server, err := NewServer(databaseURL)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	defer server.db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional file-based rulesets: RULES_DIR holds one subdirectory of
	// rule files per tenant, hot-reloaded on change.
	if rulesDir := os.Getenv("RULES_DIR"); rulesDir != "" {
		watcher, err := multitenantengine.NewRulesetWatcher(rulesDir, server.engineManager, 0, slog.Default())
		if err != nil {
			slog.Error("failed to start ruleset watcher", "error", err)
			os.Exit(1)
		}
		defer watcher.Close()
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				slog.Error("ruleset watcher exited", "error", err)
			}
		}()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		slog.Error("logger shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
