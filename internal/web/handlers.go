package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tiendafacil/backoffice/internal/grid"
	"github.com/tiendafacil/backoffice/internal/importer"
	"github.com/tiendafacil/backoffice/internal/model"
	"github.com/tiendafacil/backoffice/internal/pricing"
)

// runResponse is the JSON view of one import run and its staging state.
type runResponse struct {
	ID       string              `json:"id"`
	Mode     string              `json:"mode"`
	State    importer.RunState   `json:"state"`
	Headers  []string            `json:"headers,omitempty"`
	Outcomes []model.RowOutcome  `json:"outcomes,omitempty"`
	Selected []int               `json:"selected,omitempty"`
	Variants int                 `json:"variants"`
	Result   *model.CommitResult `json:"result,omitempty"`
}

// runView renders a locked snapshot, never the live run. A client may poll a
// run while its commit is mutating state on another goroutine.
func runView(snap importer.RunSnapshot) runResponse {
	return runResponse{
		ID:       snap.ID,
		Mode:     snap.Mode,
		State:    snap.State,
		Headers:  snap.Headers,
		Outcomes: snap.Outcomes,
		Selected: snap.Selected,
		Variants: snap.Variants,
		Result:   snap.Result,
	}
}

// pricingPayload is the optional per-run pricing table sent with the upload.
type pricingPayload struct {
	ReferencePrices map[string]float64 `json:"referencePrices"`
	MinMargins      map[string]float64 `json:"minMargins"`
	PurityFactors   map[string]float64 `json:"purityFactors"`
}

func (p pricingPayload) context() pricing.Context {
	return pricing.Context{
		ReferencePriceByClass: p.ReferencePrices,
		MinMarginByClass:      p.MinMargins,
		PurityFactors:         p.PurityFactors,
	}
}

// handleStartImport receives a multipart upload, parses it under the
// requested business mode and stages the outcome. The form carries the
// spreadsheet under "file", the mode name under "mode", an optional pricing
// table under "pricing" and any number of product pictures under "images".
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		respondError(w, r, fmt.Errorf("archivo demasiado grande o formulario invalido: %w", err), http.StatusBadRequest)
		return
	}

	modeName := r.FormValue("mode")
	if modeName == "" {
		respondError(w, r, errors.New("falta el parametro mode"), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errors.New("no se recibio ningun archivo"), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("leer archivo: %w", err), http.StatusInternalServerError)
		return
	}

	rawGrid, err := grid.Read(header.Filename, data)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var payload pricingPayload
	if raw := r.FormValue("pricing"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			respondError(w, r, fmt.Errorf("tabla de precios invalida: %w", err), http.StatusBadRequest)
			return
		}
	}

	images, err := readImages(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	run, err := s.service.StartImport(r.Context(), modeName, importer.ParseInput{
		Grid:    rawGrid,
		Pricing: payload.context(),
		Images:  images,
	})
	if err != nil {
		var structural *importer.StructuralError
		if errors.As(err, &structural) {
			respondError(w, r, structural, http.StatusUnprocessableEntity)
			return
		}
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	snap, err := s.service.Snapshot(run.ID)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, runView(snap))
}

// readImages collects the side-uploaded pictures, keyed by their original
// file name so imagen cells can reference them.
func readImages(r *http.Request) (map[string][]byte, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File["images"]) == 0 {
		return nil, nil
	}

	images := make(map[string][]byte)
	for _, fh := range r.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("abrir imagen %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("leer imagen %s: %w", fh.Filename, err)
		}
		images[fh.Filename] = data
	}
	return images, nil
}

// handleGetRun returns the current state of a run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.Snapshot(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, runView(snap))
}

// selectionRequest edits a staged run's row selection.
type selectionRequest struct {
	// Action is one of "toggle", "selectAll", "clear".
	Action string `json:"action"`
	Row    int    `json:"row,omitempty"`
}

// handleSelection applies a selection edit to a staged run.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("cuerpo invalido: %w", err), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "toggle":
		err = s.service.Toggle(runID, req.Row)
	case "selectAll":
		err = s.service.SelectAll(runID)
	case "clear":
		err = s.service.ClearSelection(runID)
	default:
		respondError(w, r, fmt.Errorf("accion desconocida: %s", req.Action), http.StatusBadRequest)
		return
	}
	if err != nil {
		respondError(w, r, err, selectionStatus(err))
		return
	}

	snap, err := s.service.Snapshot(runID)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, runView(snap))
}

// handleCommit persists the selected rows and returns the merged summary.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Commit(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err, selectionStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDiscard drops a run without writing anything.
func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Discard(chi.URLParam(r, "runID")); err != nil {
		respondError(w, r, err, selectionStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// selectionStatus maps service errors onto HTTP statuses: unknown runs are
// 404, state machine violations are 409.
func selectionStatus(err error) int {
	if errors.Is(err, importer.ErrRunNotFound) {
		return http.StatusNotFound
	}
	return http.StatusConflict
}
