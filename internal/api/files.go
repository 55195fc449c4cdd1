// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/umlgrade/umlgrade/internal/log"
	"github.com/umlgrade/umlgrade/internal/platform/fs"
	"github.com/umlgrade/umlgrade/internal/tasks"
)

// resultPaths maps download kinds to the task's stored result paths. The
// paths are relative to the results directory.
func resultPaths(task *tasks.Task) map[string]string {
	return map[string]string{
		"error_analysis":  task.ErrorAnalysisPath,
		"annotated_image": task.AnnotatedImagePath,
		"corrected_uml":   task.CorrectedUMLPath,
		"corrected_image": task.CorrectedImagePath,
		"generated_uml":   task.GeneratedUMLPath,
	}
}

// handleDownload serves a result file for a completed task. The stored path
// is confined to the results directory before anything is opened.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")

	task, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			writeNotFound(w)
			return
		}
		logger.Error().Err(err).Str("event", "file_req.load_failed").Str("task_id", id).Msg("task lookup failed")
		writeInternalError(w)
		return
	}

	rel, ok := resultPaths(task)[kind]
	if !ok {
		recordFileRequestDenied("unknown_kind")
		writeError(w, errors.New("unknown file kind"))
		return
	}
	if rel == "" {
		recordFileRequestDenied("not_available")
		writeNotFound(w)
		return
	}

	full, err := fs.ConfineRelPath(s.resultsDir(), rel)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "file_req.denied").
			Str("task_id", id).
			Str("kind", kind).
			Str("reason", "path_escape").
			Msg("result path escapes results directory")
		recordFileRequestDenied("path_escape")
		writeNotFound(w)
		return
	}
	if err := fs.IsRegularFile(full); err != nil {
		recordFileRequestDenied("not_found")
		writeNotFound(w)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(full))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(full)+`"`)

	logger.Info().Str("event", "file_req.allowed").Str("task_id", id).Str("kind", kind).Msg("serving result file")
	recordFileRequestAllowed()
	http.ServeFile(w, r, full)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".puml":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
