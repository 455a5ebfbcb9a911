package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ginjaninja78/workhours-merger/internal/aggregator"
	"github.com/ginjaninja78/workhours-merger/internal/pipeline"
)

type handler struct {
	pipeline   Pipeline
	locks      *dirLocks
	stagingDir string
	outputDir  string
	keywords   []string
}

// ExtractRequest is the body of POST /api/v1/extract. With no files, the
// input directory is searched.
type ExtractRequest struct {
	Files []string `json:"files" validate:"dive,required"`
	Clear bool     `json:"clear"`
}

var validate = validator.New()

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ExtractResult reports one workbook.
type ExtractResult struct {
	File    string `json:"file"`
	Staged  string `json:"staged,omitempty"`
	Records int    `json:"records"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MergeResponse is the body returned by POST /api/v1/merge.
type MergeResponse struct {
	Outputs     map[string]string `json:"outputs"`
	Files       int               `json:"files"`
	Malformed   int               `json:"malformed"`
	Records     int               `json:"records"`
	SkippedRows int               `json:"skipped_rows"`
}

func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

func (h *handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	files, err := h.pipeline.Search(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("search failed")
		respondError(w, r, http.StatusInternalServerError, "search failed")
		return
	}
	if files == nil {
		files = []string{}
	}
	respondJSON(w, r, http.StatusOK, map[string][]string{"files": files})
}

func (h *handler) Extract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	var req ExtractRequest
	if r.Body != nil {
		err := render.DecodeJSON(r.Body, &req)
		if err != nil && !errors.Is(err, io.EOF) {
			respondError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, r, http.StatusBadRequest, "files must be non-empty paths")
		return
	}

	unlock := h.locks.lock(h.stagingDir)
	defer unlock()

	if req.Clear {
		if _, err := h.pipeline.ClearStaging(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to clear staging")
			respondError(w, r, http.StatusInternalServerError, "failed to clear staging")
			return
		}
	}

	files := req.Files
	if len(files) == 0 {
		found, err := h.pipeline.Search(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("search failed")
			respondError(w, r, http.StatusInternalServerError, "search failed")
			return
		}
		files = found
	}

	results := h.pipeline.ExtractAll(ctx, files)
	respondJSON(w, r, http.StatusOK, toExtractResults(results))
}

func (h *handler) Merge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	unlock := h.locks.lock(h.stagingDir)
	result, outputs, err := h.pipeline.Merge(ctx)
	unlock()
	if err != nil {
		logger.Error().Err(err).Msg("merge failed")
		respondError(w, r, http.StatusInternalServerError, "merge failed")
		return
	}

	respondJSON(w, r, http.StatusOK, toMergeResponse(result, outputs))
}

func (h *handler) GetOutput(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	unit := chi.URLParam(r, "unit")

	if !slices.Contains(h.keywords, unit) {
		respondError(w, r, http.StatusNotFound, "unknown unit")
		return
	}

	data, err := os.ReadFile(filepath.Join(h.outputDir, aggregator.OutputName(unit)))
	if errors.Is(err, os.ErrNotExist) {
		respondError(w, r, http.StatusNotFound, "no merged document for unit")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("unit", unit).Msg("failed to read merged document")
		respondError(w, r, http.StatusInternalServerError, "failed to read merged document")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}

func (h *handler) ClearStaging(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	unlock := h.locks.lock(h.stagingDir)
	n, err := h.pipeline.ClearStaging(ctx)
	unlock()
	if err != nil {
		logger.Error().Err(err).Msg("failed to clear staging")
		respondError(w, r, http.StatusInternalServerError, "failed to clear staging")
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]int{"removed": n})
}

func toExtractResults(results []pipeline.Result) []ExtractResult {
	out := make([]ExtractResult, len(results))
	for i, res := range results {
		out[i] = ExtractResult{
			File:    res.FilePath,
			Staged:  res.StagedFile,
			Records: res.Stats.Records,
			Success: res.Success,
		}
		if res.Error != nil {
			out[i].Error = res.Error.Error()
		}
	}
	return out
}

func toMergeResponse(result *aggregator.Result, outputs map[string]string) MergeResponse {
	if outputs == nil {
		outputs = map[string]string{}
	}
	return MergeResponse{
		Outputs:     outputs,
		Files:       result.Stats.FilesMerged,
		Malformed:   result.Stats.FilesMalformed,
		Records:     result.RecordCount(),
		SkippedRows: result.Stats.RowsSkipped,
	}
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respondJSON(w, r, status, ErrorResponse{Error: msg})
}
