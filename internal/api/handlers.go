// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/umlgrade/umlgrade/internal/log"
	"github.com/umlgrade/umlgrade/internal/tasks"
)

// maxUploadBytes bounds multipart uploads to keep memory and disk usage sane.
const maxUploadBytes = 32 << 20

var allowedExtensions = map[tasks.Type][]string{
	tasks.TypeStarUML:  {".mdj"},
	tasks.TypeImage:    {".png", ".jpg", ".jpeg", ".bmp", ".gif", ".tiff"},
	tasks.TypePlantUML: {".puml"},
}

func (s *Server) uploadsDir() string { return filepath.Join(s.cfg.DataDir, "uploads") }
func (s *Server) resultsDir() string { return filepath.Join(s.cfg.DataDir, "results") }

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	taskType := tasks.Type(r.FormValue("task_type"))
	if !taskType.Valid() {
		writeError(w, fmt.Errorf("invalid task_type %q", r.FormValue("task_type")))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("missing file upload: %w", err))
		return
	}
	defer func() { _ = file.Close() }()

	filename, err := sanitizeFilename(header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := checkExtension(taskType, filename); err != nil {
		writeError(w, err)
		return
	}

	id := uuid.New().String()
	dir := filepath.Join(s.uploadsDir(), id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		logger.Error().Err(err).Str("event", "submit.mkdir_failed").Msg("could not create upload directory")
		writeInternalError(w)
		return
	}
	inputPath := filepath.Join(dir, filename)
	if err := saveUpload(file, inputPath); err != nil {
		logger.Error().Err(err).Str("event", "submit.save_failed").Msg("could not persist upload")
		writeInternalError(w)
		return
	}

	task := &tasks.Task{
		ID:        id,
		Type:      taskType,
		Status:    tasks.StatusPending,
		Filename:  filename,
		InputPath: inputPath,
	}
	if err := s.store.Create(r.Context(), task); err != nil {
		logger.Error().Err(err).Str("event", "submit.create_failed").Msg("could not create task")
		writeInternalError(w)
		return
	}
	if err := s.queue.Enqueue(id); err != nil {
		_ = s.store.Delete(r.Context(), id)
		_ = os.RemoveAll(dir)
		writeServiceUnavailable(w, err)
		return
	}

	tasksSubmittedTotal.WithLabelValues(string(taskType)).Inc()
	logger.Info().
		Str("event", "submit.accepted").
		Str("task_id", id).
		Str("task_type", string(taskType)).
		Str("filename", filename).
		Msg("task accepted")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": id,
		"status":  string(tasks.StatusPending),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := tasks.ListFilter{Limit: 50}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := tasks.Status(raw)
		if !status.Valid() {
			writeError(w, fmt.Errorf("invalid status %q", raw))
			return
		}
		filter.Status = status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("invalid offset %q", raw))
			return
		}
		filter.Offset = n
	}

	list, err := s.store.List(r.Context(), filter)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("event", "list.failed").Msg("task listing failed")
		writeInternalError(w)
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("event", "list.failed").Msg("store stats failed")
		writeInternalError(w)
		return
	}
	total := stats.Total
	if filter.Status != "" {
		total = stats.ByStatus[filter.Status]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": list,
		"count": total,
	})
}

// taskDetail is the single-task response with download links for completed
// results.
type taskDetail struct {
	*tasks.Task
	ResultLinks map[string]string `json:"result_links,omitempty"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			writeNotFound(w)
			return
		}
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("event", "get.failed").Str("task_id", id).Msg("task lookup failed")
		writeInternalError(w)
		return
	}

	detail := taskDetail{Task: task}
	if task.Status == tasks.StatusCompleted {
		detail.ResultLinks = resultLinks(task)
	}
	writeJSON(w, http.StatusOK, detail)
}

func resultLinks(task *tasks.Task) map[string]string {
	links := make(map[string]string)
	for kind, rel := range resultPaths(task) {
		if rel != "" {
			links[kind] = fmt.Sprintf("/api/tasks/%s/files/%s", task.ID, kind)
		}
	}
	if len(links) == 0 {
		return nil
	}
	return links
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := log.WithComponentFromContext(r.Context(), "api")

	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			writeNotFound(w)
			return
		}
		logger.Error().Err(err).Str("event", "delete.failed").Str("task_id", id).Msg("task delete failed")
		writeInternalError(w)
		return
	}

	// Task IDs are server-generated UUIDs, safe to join directly.
	if err := os.RemoveAll(filepath.Join(s.uploadsDir(), id)); err != nil {
		logger.Warn().Err(err).Str("task_id", id).Msg("could not remove uploads")
	}
	if err := os.RemoveAll(filepath.Join(s.resultsDir(), id)); err != nil {
		logger.Warn().Err(err).Str("task_id", id).Msg("could not remove results")
	}

	logger.Info().Str("event", "delete.done").Str("task_id", id).Msg("task deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("event", "stats.failed").Msg("store stats failed")
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":       stats,
		"queue_depth": s.queue.Depth(),
		"workers":     s.queue.Workers(),
		"cache":       s.cache.Stats(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		writeServiceUnavailable(w, fmt.Errorf("task store unavailable"))
		return
	}
	if s.prober != nil {
		if err := s.prober.Probe(r.Context()); err != nil {
			writeServiceUnavailable(w, fmt.Errorf("renderer unavailable: %w", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// sanitizeFilename normalizes an upload name and rejects anything that could
// escape the upload directory.
func sanitizeFilename(name string) (string, error) {
	name = norm.NFC.String(name)
	name = filepath.Base(filepath.Clean(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid filename")
	}
	if strings.ContainsAny(name, "\x00\\/") {
		return "", fmt.Errorf("invalid filename")
	}
	return name, nil
}

func checkExtension(t tasks.Type, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range allowedExtensions[t] {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("file extension %q not allowed for task type %q", ext, t)
}

func saveUpload(src io.Reader, path string) error {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
