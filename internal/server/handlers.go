package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/carelens/internal/config"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/storage"
	"github.com/hyperjump/carelens/internal/trend"
	"go.uber.org/zap"
)

const defaultMaxUpload = 32 << 20

type answerRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	patientID := chi.URLParam(r, "patientID")
	s.logger.Debug("answer request", zap.String("patient_id", patientID), zap.String("query", req.Query))
	s.respondJSON(w, http.StatusOK, s.svc.Answer(r.Context(), patientID, req.Query))
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	inst, err := trend.ParseInstrument(chi.URLParam(r, "instrument"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.svc.GetTrend(r.Context(), chi.URLParam(r, "patientID"), inst))
}

type summaryResponse struct {
	PatientID      string `json:"patient_id"`
	Summary        string `json:"summary"`
	FoundDocuments int    `json:"found_documents"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	out := s.svc.ClientSummary(r.Context(), patientID)
	s.respondJSON(w, http.StatusOK, summaryResponse{
		PatientID:      patientID,
		Summary:        out.Text,
		FoundDocuments: out.Found,
	})
}

type ingestRequest struct {
	Rows []models.Row `json:"rows"`
}

// handleIngest accepts either a multipart CSV/XLSX upload in the "file" field or a JSON
// body of rows. With a multipart upload the record type may be "auto" to infer it from
// the file name.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "recordType")
	var rt models.RecordType
	if !(isMultipart(r) && name == "auto") {
		var err error
		if rt, err = models.ParseRecordType(name); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if rt == models.RecordClientDocument {
		s.respondError(w, http.StatusBadRequest, "attachments are uploaded to /api/v1/patients/{patientID}/documents")
		return
	}

	if isMultipart(r) {
		filename, content, ok := s.readUpload(w, r)
		if !ok {
			return
		}
		res, err := s.svc.IngestTable(r.Context(), filename, content, rt)
		if err != nil {
			s.respondIngestError(w, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, res)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxUpload())).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Rows) == 0 {
		s.respondError(w, http.StatusBadRequest, "rows are required")
		return
	}
	s.respondJSON(w, http.StatusCreated, s.svc.Ingest(r.Context(), req.Rows, rt))
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		s.respondError(w, http.StatusBadRequest, "multipart upload with a file field is required")
		return
	}
	filename, content, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	res, err := s.svc.IngestDocumentBytes(r.Context(), chi.URLParam(r, "patientID"), filename, content)
	if err != nil {
		s.respondIngestError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.svc.Search(r.Context(), &query)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if !s.svc.Delete(r.Context(), id) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Analytics(r.Context())
	if err != nil {
		s.logger.Error("analytics failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"documents": s.svc.Count(r.Context()),
	}
	cfg := s.config
	configInfo := map[string]interface{}{
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"chunk_size":           cfg.Ingest.ChunkSize,
		"chunk_overlap":        cfg.Ingest.ChunkOverlap,
		"database_path":        cfg.Storage.DatabasePath,
		"bleve_index_path":     cfg.Storage.BleveIndexPath,
		"vector_index_path":    cfg.Storage.VectorIndexPath,
	}
	diskBytes, err := storage.DiskUsageBytes(
		cfg.Storage.DatabasePath,
		cfg.Storage.BleveIndexPath,
		cfg.Storage.VectorIndexPath,
	)
	if err == nil && diskBytes > 0 {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func (s *Server) maxUpload() int64 {
	if n := s.config.Server.MaxUploadBytes; n > 0 {
		return n
	}
	return defaultMaxUpload
}

// readUpload returns the name and content of the "file" part. It writes the error response
// itself and returns ok == false when the upload is missing or too large.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())
	if err := r.ParseMultipartForm(s.maxUpload()); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err))
		return "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file field is required")
		return "", nil, false
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return "", nil, false
	}
	return filepath.Base(header.Filename), content, true
}

func (s *Server) respondIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnknownRecordType),
		errors.Is(err, models.ErrUnsupportedFormat),
		errors.Is(err, models.ErrMissingField):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("ingestion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
