// Package server exposes a stored snapshot as a JSON read API for the
// dashboard. It never computes scores; everything it serves was built
// and persisted by the engine.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/trialops/dqi-engine/internal/model"
	"github.com/trialops/dqi-engine/internal/snapshot"
	"github.com/trialops/dqi-engine/pkg/narrative"
)

// Server serves one snapshot from memory. Reload swaps it wholesale, so
// in-flight requests observe either the old or the new snapshot.
type Server struct {
	store     snapshot.Store
	generator *narrative.Generator

	mu   sync.RWMutex
	snap *model.Snapshot
}

// New creates a Server and loads the current snapshot from the store.
// generator may be nil; narrative endpoints then answer 503.
func New(ctx context.Context, store snapshot.Store, generator *narrative.Generator) (*Server, error) {
	s := &Server{store: store, generator: generator}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload reads the stored snapshot and swaps it in.
func (s *Server) Reload(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "server: load snapshot")
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	zap.L().Info("server: snapshot loaded",
		zap.String("build_id", snap.Manifest.BuildID),
		zap.Int("studies", len(snap.Studies)),
	)
	return nil
}

func (s *Server) snapshot() *model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Router builds the HTTP routes.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reload", s.handleReload)
		r.Get("/manifest", s.handleManifest)
		r.Get("/studies", s.handleStudies)
		r.Route("/studies/{studyID}", func(r chi.Router) {
			r.Get("/", s.handleStudy)
			r.Get("/sites", s.handleSites)
			r.Get("/subjects", s.handleSubjects)
			r.Get("/subjects/{subjectID}", s.handleSubject)
			r.Get("/warnings", s.handleWarnings)
			r.Post("/summary", s.handleStudySummary)
			r.Post("/sites/{siteID}/actions", s.handleSiteActions)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot().Manifest)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot().Manifest)
}

func (s *Server) handleStudies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot().Studies)
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	study := s.snapshot().Study(chi.URLParam(r, "studyID"))
	if study == nil {
		writeError(w, http.StatusNotFound, eris.New("study not found"))
		return
	}
	writeJSON(w, http.StatusOK, study)
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	studyID := chi.URLParam(r, "studyID")
	if snap.Study(studyID) == nil {
		writeError(w, http.StatusNotFound, eris.New("study not found"))
		return
	}
	writeJSON(w, http.StatusOK, snap.SitesForStudy(studyID))
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	studyID := chi.URLParam(r, "studyID")
	if snap.Study(studyID) == nil {
		writeError(w, http.StatusNotFound, eris.New("study not found"))
		return
	}
	subjects := snap.SubjectsForStudy(studyID)
	if siteID := r.URL.Query().Get("site_id"); siteID != "" {
		filtered := subjects[:0:0]
		for _, rec := range subjects {
			if rec.SiteID == siteID {
				filtered = append(filtered, rec)
			}
		}
		subjects = filtered
	}
	writeJSON(w, http.StatusOK, subjects)
}

// handleSubject returns one subject with its full feature and component
// breakdown. Undefined entries are absent from the maps, not zeroed.
func (s *Server) handleSubject(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	studyID := chi.URLParam(r, "studyID")
	subjectID := chi.URLParam(r, "subjectID")
	for i := range snap.Subjects {
		rec := &snap.Subjects[i]
		if rec.StudyID == studyID && rec.SubjectID == subjectID {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeError(w, http.StatusNotFound, eris.New("subject not found"))
}

func (s *Server) handleWarnings(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	studyID := chi.URLParam(r, "studyID")
	if snap.Study(studyID) == nil {
		writeError(w, http.StatusNotFound, eris.New("study not found"))
		return
	}
	var out []model.Warning
	for _, warn := range snap.Warnings {
		if warn.StudyID == studyID {
			out = append(out, warn)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStudySummary(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, eris.New("narrative layer not configured"))
		return
	}
	snap := s.snapshot()
	studyID := chi.URLParam(r, "studyID")
	study := snap.Study(studyID)
	if study == nil {
		writeError(w, http.StatusNotFound, eris.New("study not found"))
		return
	}
	text, err := s.generator.StudySummary(r.Context(), study, snap.SitesForStudy(studyID))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"study_id": studyID, "summary": text})
}

func (s *Server) handleSiteActions(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, eris.New("narrative layer not configured"))
		return
	}
	snap := s.snapshot()
	studyID := chi.URLParam(r, "studyID")
	siteID := chi.URLParam(r, "siteID")

	var site *model.SiteRecord
	for _, rec := range snap.SitesForStudy(studyID) {
		if rec.SiteID == siteID {
			site = &rec
			break
		}
	}
	if site == nil {
		writeError(w, http.StatusNotFound, eris.New("site not found"))
		return
	}
	text, err := s.generator.SiteActions(r.Context(), site, snap.SubjectsForStudy(studyID))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"study_id": studyID, "site_id": siteID, "actions": text,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
