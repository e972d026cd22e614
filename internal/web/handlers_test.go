package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tiendafacil/backoffice/internal/config"
	"github.com/tiendafacil/backoffice/internal/importer"
	"github.com/tiendafacil/backoffice/internal/model"
)

// ============================================================================
// Import API Tests
// ============================================================================

type fakeCommitter struct {
	result model.CommitResult
	calls  int
}

func (f *fakeCommitter) Commit(_ context.Context, records []model.CanonicalRecord, _ []model.VariantRecord) (model.CommitResult, error) {
	f.calls++
	f.result.Inserted = len(records)
	return f.result, nil
}

func testServer(committer importer.Committer) *Server {
	cfg := &config.Config{}
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 60 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Import.MaxFileSize = 1 << 20

	service := importer.NewService(committer, nil, time.Hour)
	return NewServer(service, cfg)
}

func multipartUpload(t *testing.T, mode, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("mode", mode); err != nil {
		t.Fatalf("write mode field: %v", err)
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

const validCSV = "Nombre,Tipo,Precio compra,Precio venta,Stock,Codigo\n" +
	"Camisa,fisico,10,20,5,A\n" +
	"Pantalon,fisico,10,20,5,B\n" +
	",fisico,10,20,5,C\n"

func startImport(t *testing.T, s *Server) runResponse {
	t.Helper()

	body, contentType := multipartUpload(t, "retail", "productos.csv", validCSV)
	req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var run runResponse
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return run
}

func TestStartImportEndpoint(t *testing.T) {
	s := testServer(&fakeCommitter{})
	run := startImport(t, s)

	if run.ID == "" {
		t.Error("expected run id")
	}
	if run.State != importer.StateStaged {
		t.Errorf("state = %q, want %q", run.State, importer.StateStaged)
	}
	if len(run.Outcomes) != 3 {
		t.Errorf("expected 3 outcomes, got %d", len(run.Outcomes))
	}
	if len(run.Selected) != 2 {
		t.Errorf("expected 2 selected rows, got %v", run.Selected)
	}
}

func TestStartImportEndpoint_MissingMode(t *testing.T) {
	s := testServer(&fakeCommitter{})

	body, contentType := multipartUpload(t, "", "productos.csv", validCSV)
	req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartImportEndpoint_StructuralFailure(t *testing.T) {
	s := testServer(&fakeCommitter{})

	body, contentType := multipartUpload(t, "retail", "productos.csv", "Nombre,Tipo\nCamisa,fisico\n")
	req := httptest.NewRequest(http.MethodPost, "/api/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Problems) != 1 {
		t.Fatalf("expected one synthetic problem, got %v", resp.Problems)
	}
	if !strings.Contains(resp.Problems[0].Message, "precio_compra") {
		t.Errorf("expected missing family named, got %q", resp.Problems[0].Message)
	}
}

func TestGetRunEndpoint_NotFound(t *testing.T) {
	s := testServer(&fakeCommitter{})

	req := httptest.NewRequest(http.MethodGet, "/api/imports/nope", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func selectionRequestBody(t *testing.T, action string, row int) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(selectionRequest{Action: action, Row: row})
	if err != nil {
		t.Fatalf("marshal selection: %v", err)
	}
	return bytes.NewReader(data)
}

func TestSelectionEndpoint(t *testing.T) {
	s := testServer(&fakeCommitter{})
	run := startImport(t, s)

	req := httptest.NewRequest(http.MethodPut,
		fmt.Sprintf("/api/imports/%s/selection", run.ID),
		selectionRequestBody(t, "toggle", run.Selected[0]))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var updated runResponse
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(updated.Selected) != 1 {
		t.Errorf("expected 1 selected row after toggle, got %v", updated.Selected)
	}
}

func TestSelectionEndpoint_UnknownAction(t *testing.T) {
	s := testServer(&fakeCommitter{})
	run := startImport(t, s)

	req := httptest.NewRequest(http.MethodPut,
		fmt.Sprintf("/api/imports/%s/selection", run.ID),
		selectionRequestBody(t, "invert", 0))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCommitEndpoint(t *testing.T) {
	committer := &fakeCommitter{}
	s := testServer(committer)
	run := startImport(t, s)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/imports/%s/commit", run.ID), nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result model.CommitResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", result.Inserted)
	}
	// The rejected row rides along as a failure entry without counting.
	if result.Failed != 0 || len(result.Failures) != 1 {
		t.Errorf("unexpected failure accounting %+v", result)
	}
	if committer.calls != 1 {
		t.Errorf("committer calls = %d, want 1", committer.calls)
	}
}

func TestCommitEndpoint_EmptySelectionConflicts(t *testing.T) {
	s := testServer(&fakeCommitter{})
	run := startImport(t, s)

	req := httptest.NewRequest(http.MethodPut,
		fmt.Sprintf("/api/imports/%s/selection", run.ID),
		selectionRequestBody(t, "clear", 0))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear selection status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/imports/%s/commit", run.ID), nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestDiscardEndpoint(t *testing.T) {
	s := testServer(&fakeCommitter{})
	run := startImport(t, s)

	req := httptest.NewRequest(http.MethodDelete, "/api/imports/"+run.ID, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/imports/"+run.ID, nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after discard = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(&fakeCommitter{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// blockingCommitter holds the commit open until released, so tests can read
// the run while the commit is in flight.
type blockingCommitter struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingCommitter) Commit(_ context.Context, records []model.CanonicalRecord, _ []model.VariantRecord) (model.CommitResult, error) {
	close(b.started)
	<-b.release
	return model.CommitResult{Inserted: len(records)}, nil
}

func TestGetRunWhileCommitInFlight(t *testing.T) {
	committer := &blockingCommitter{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := testServer(committer)
	run := startImport(t, s)

	commitDone := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/imports/"+run.ID+"/commit", nil)
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		commitDone <- rec.Code
	}()

	<-committer.started

	req := httptest.NewRequest(http.MethodGet, "/api/imports/"+run.ID, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status during commit = %d, want 200", rec.Code)
	}
	var during runResponse
	if err := json.NewDecoder(rec.Body).Decode(&during); err != nil {
		t.Fatalf("decode run during commit: %v", err)
	}
	if during.State != importer.StateCommitting {
		t.Errorf("state during commit = %q, want %q", during.State, importer.StateCommitting)
	}

	close(committer.release)
	if code := <-commitDone; code != http.StatusOK {
		t.Fatalf("commit status = %d, want 200", code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/imports/"+run.ID, nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status after commit = %d, want 200", rec.Code)
	}
	var after runResponse
	if err := json.NewDecoder(rec.Body).Decode(&after); err != nil {
		t.Fatalf("decode run after commit: %v", err)
	}
	if after.State != importer.StateDone {
		t.Errorf("state after commit = %q, want %q", after.State, importer.StateDone)
	}
	if after.Result == nil || after.Result.Inserted != 2 {
		t.Errorf("result after commit = %+v, want 2 inserted", after.Result)
	}
}

func TestRequestTimeoutComesFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 50 * time.Millisecond
	cfg.Import.MaxFileSize = 1 << 20

	service := importer.NewService(&fakeCommitter{}, nil, time.Hour)
	s := NewServer(service, cfg)
	s.Router().Get("/lento", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	req := httptest.NewRequest(http.MethodGet, "/lento", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}
