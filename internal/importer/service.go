package importer

// service.go tracks import runs. Each run is a private, disposable staging
// set: parsed once, selection-edited by the caller, then committed or
// discarded. Runs never share state; the whole run executes on the caller's
// goroutine so chunk N+1 is never issued before chunk N completes.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiendafacil/backoffice/internal/logging"
	"github.com/tiendafacil/backoffice/internal/model"
)

// ErrRunNotFound reports an unknown or already-forgotten run id.
var ErrRunNotFound = errors.New("importacion no encontrada")

// RunState is the lifecycle phase of one import run.
type RunState string

const (
	StateParsing    RunState = "parsing"
	StateStaged     RunState = "staged"
	StateCommitting RunState = "committing"
	StateDone       RunState = "done"
)

// DefaultRunRetention is how long a finished run stays queryable before the
// service forgets it.
var DefaultRunRetention = 30 * time.Minute

// Committer persists the selected batch. Satisfied by *recon.Engine.
type Committer interface {
	Commit(ctx context.Context, records []model.CanonicalRecord, variants []model.VariantRecord) (model.CommitResult, error)
}

// Run is one import run's state.
type Run struct {
	ID        string
	Mode      string
	State     RunState
	Staging   *Staging
	Header    HeaderMap
	Result    *model.CommitResult
	CreatedAt time.Time
}

// Service owns the run registry and drives the run state machine:
// Parsing -> Staged -> Committing -> Done, with Discard allowed from any
// state except Committing.
type Service struct {
	committer Committer
	blobs     BlobStore
	retention time.Duration

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewService creates a run service. A zero retention falls back to the
// default.
func NewService(committer Committer, blobs BlobStore, retention time.Duration) *Service {
	if retention <= 0 {
		retention = DefaultRunRetention
	}
	return &Service{
		committer: committer,
		blobs:     blobs,
		retention: retention,
		runs:      make(map[string]*Run),
	}
}

// StartImport parses a grid under the named mode and stages the outcome.
// Structural failures return an error and create no run.
func (s *Service) StartImport(ctx context.Context, modeName string, in ParseInput) (*Run, error) {
	mode, ok := GetMode(modeName)
	if !ok {
		return nil, fmt.Errorf("modo desconocido: %s", modeName)
	}
	in.Mode = mode

	log := logging.FromContext(ctx).With("mode", modeName)

	parsed, err := ParseGrid(ctx, in, s.blobs, log)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.New().String(),
		Mode:      modeName,
		State:     StateStaged,
		Staging:   NewStaging(parsed.Outcomes, parsed.Variants),
		Header:    parsed.Header,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	log.Info("import staged",
		"run_id", run.ID,
		"admitted", len(run.Staging.Admitted),
		"rejected", len(run.Staging.Rejected),
		"variants", len(run.Staging.Variants),
	)
	return run, nil
}

// Get returns a run by id.
func (s *Service) Get(runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// RunSnapshot is a read-only copy of a run's externally visible state, taken
// under the service lock. Callers rendering a run while a commit is in flight
// must read through a snapshot, never through the live *Run.
type RunSnapshot struct {
	ID       string
	Mode     string
	State    RunState
	Headers  []string
	Outcomes []model.RowOutcome
	Selected []int
	Variants int
	Result   *model.CommitResult
}

// Snapshot copies a run's current state under the lock.
func (s *Service) Snapshot(runID string) (RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return RunSnapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	snap := RunSnapshot{
		ID:       run.ID,
		Mode:     run.Mode,
		State:    run.State,
		Headers:  run.Header.Original,
		Outcomes: run.Staging.Outcomes,
		Selected: run.Staging.SelectedRows(),
		Variants: len(run.Staging.Variants),
	}
	if run.Result != nil {
		result := *run.Result
		snap.Result = &result
	}
	return snap, nil
}

// Toggle flips one row's selection. Only legal while staged.
func (s *Service) Toggle(runID string, rowNumber int) error {
	return s.editSelection(runID, func(st *Staging) { st.Toggle(rowNumber) })
}

// SelectAll selects every admitted row. Only legal while staged.
func (s *Service) SelectAll(runID string) error {
	return s.editSelection(runID, func(st *Staging) { st.SelectAll() })
}

// ClearSelection deselects everything. Only legal while staged.
func (s *Service) ClearSelection(runID string) error {
	return s.editSelection(runID, func(st *Staging) { st.ClearSelection() })
}

func (s *Service) editSelection(runID string, edit func(*Staging)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.State != StateStaged {
		return fmt.Errorf("la seleccion solo puede cambiar en estado staged (actual: %s)", run.State)
	}
	edit(run.Staging)
	return nil
}

// Commit persists the selected subset of the run. Requires a staged run with
// a non-empty selection. The result merges the run's row-level rejections
// with the write-level failures so the caller renders one summary.
func (s *Service) Commit(ctx context.Context, runID string) (model.CommitResult, error) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return model.CommitResult{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.State != StateStaged {
		s.mu.Unlock()
		return model.CommitResult{}, fmt.Errorf("no se puede confirmar desde el estado %s", run.State)
	}
	records := run.Staging.SelectedRecords()
	variants := run.Staging.SelectedVariants()
	if len(records) == 0 {
		s.mu.Unlock()
		return model.CommitResult{}, fmt.Errorf("no hay filas seleccionadas para confirmar")
	}
	run.State = StateCommitting
	rejected := run.Staging.Rejected
	s.mu.Unlock()

	result, err := s.committer.Commit(ctx, records, variants)

	s.mu.Lock()
	run.State = StateDone
	if err == nil {
		merged := mergeRejections(result, rejected)
		run.Result = &merged
		result = merged
		// Staging is disposable: once committed it only exists through the
		// result summary.
		run.Staging = NewStaging(nil, nil)
	}
	s.mu.Unlock()

	s.cleanup(runID, s.retention)

	if err != nil {
		return model.CommitResult{}, fmt.Errorf("confirmar importacion: %w", err)
	}
	return result, nil
}

// Discard drops a run without touching the store. Not a defined transition
// while a commit is in flight.
func (s *Service) Discard(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.State == StateCommitting {
		return fmt.Errorf("no se puede descartar durante la confirmacion")
	}
	delete(s.runs, runID)
	return nil
}

// mergeRejections folds the parse-time rejections into the commit summary:
// one failure entry per problem, so the caller sees row- and write-level
// failures in a single list.
func mergeRejections(result model.CommitResult, rejected []model.RowOutcome) model.CommitResult {
	for _, r := range rejected {
		for _, p := range r.Problems {
			result.Failures = append(result.Failures, model.CommitFailure{
				Row:     r.RowNumber,
				Label:   r.Label,
				Field:   p.Field,
				Message: p.Message,
			})
		}
	}
	return result
}

// cleanup forgets the run after the retention delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}
