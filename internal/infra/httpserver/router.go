package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/himeshgonnade/chronosscan/internal/application/pipeline"
	"github.com/himeshgonnade/chronosscan/internal/domain/scans"
	"github.com/himeshgonnade/chronosscan/internal/middleware"
)

const maxUploadBytes = 64 << 20

type Router struct {
	pipeline *pipeline.Service
	store    scans.ArtifactStore
}

func NewRouter(svc *pipeline.Service, store scans.ArtifactStore) http.Handler {
	r := &Router{pipeline: svc, store: store}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.RateLimitMiddleware(100, 10))

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/scans", r.wrap(r.handleUploadScan))
		rt.Get("/scans/{id}", r.wrap(r.handleGetScan))
		rt.Get("/scans/{id}/errors", r.wrap(r.handleScanErrors))
		rt.Get("/patients/{patientID}/scans", r.wrap(r.handlePatientScans))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// POST /v1/scans
// Multipart: "scan" file plus patient_id, scan_date (YYYY-MM-DD), scan_type,
// optional query. The file is persisted to the artifact store first; the
// pipeline only ever sees the locator. The response goes out as soon as the
// foreground branch resolves; report generation continues in the background.
func (r *Router) handleUploadScan(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return nil
	}

	patientID, err := strconv.ParseInt(req.FormValue("patient_id"), 10, 64)
	if err != nil {
		http.Error(w, "patient_id is required", http.StatusBadRequest)
		return nil
	}
	scanDate, err := time.Parse("2006-01-02", req.FormValue("scan_date"))
	if err != nil {
		http.Error(w, "scan_date must be YYYY-MM-DD", http.StatusBadRequest)
		return nil
	}
	scanType := req.FormValue("scan_type")
	if scanType == "" {
		http.Error(w, "scan_type is required", http.StatusBadRequest)
		return nil
	}

	file, header, err := req.FormFile("scan")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return nil
	}
	defer file.Close()

	key := fmt.Sprintf("patients/%d/%s-%s", patientID, uuid.New().String(), filepath.Base(header.Filename))
	path, err := r.store.UploadScan(req.Context(), file, header.Size, key, header.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("store scan artifact: %w", err)
	}

	res, err := r.pipeline.IngestScan(req.Context(), pipeline.IngestScanCommand{
		PatientID:      patientID,
		ScanPath:       path,
		ScanDate:       scanDate,
		ScanType:       scanType,
		ClinicianQuery: req.FormValue("query"),
	})
	if err != nil {
		return err
	}
	middleware.IncrementScansIngested()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	return json.NewEncoder(w).Encode(map[string]any{
		"message":      "scan uploaded and processed",
		"scan_id":      res.ScanID,
		"storage_path": res.StoragePath,
		"analyzed":     res.Analyzed,
	})
}

// GET /v1/scans/{id}
// Returns the scan, its latest report text, and the patient's previous scan.
func (r *Router) handleGetScan(w http.ResponseWriter, req *http.Request) error {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid scan id", http.StatusBadRequest)
		return nil
	}

	detail, err := r.pipeline.GetScan(req.Context(), scans.ScanID(id))
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(detail)
}

// GET /v1/scans/{id}/errors?limit=20
func (r *Router) handleScanErrors(w http.ResponseWriter, req *http.Request) error {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid scan id", http.StatusBadRequest)
		return nil
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.pipeline.ErrorsByScan(req.Context(), scans.ScanID(id), limit)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /v1/patients/{patientID}/scans
func (r *Router) handlePatientScans(w http.ResponseWriter, req *http.Request) error {
	patientID, err := strconv.ParseInt(chi.URLParam(req, "patientID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return nil
	}

	list, err := r.pipeline.ScansByPatient(req.Context(), patientID)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}
