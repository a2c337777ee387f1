package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcosta/docingest-back/internal/domain"
	"github.com/mcosta/docingest-back/internal/metrics"
	"github.com/mcosta/docingest-back/internal/queue"
	"github.com/mcosta/docingest-back/internal/repository"
)

var (
	// ErrForbidden marks an ownership violation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState marks an operation not permitted for the ingestion's
	// current status, e.g. cancelling a terminal ingestion.
	ErrInvalidState = errors.New("invalid ingestion state")

	// errCallbackConflict aborts an update when the ingestion is already
	// terminal; swallowed by ApplyCallback as idempotent delivery.
	errCallbackConflict = errors.New("ingestion already terminal")
)

const (
	cancelledByUserMessage = "Processing cancelled by user"
	dispatchFailurePrefix  = "Failed to trigger processing: "

	dispatchAttempts = 3
)

// SearchInvalidator drops cached search responses when new content becomes
// searchable.
type SearchInvalidator interface {
	InvalidateUser(userID string)
}

// IngestionService is the lifecycle state machine for ingestions:
// queued -> processing -> {completed, failed, cancelled}. Per-ingestion
// serialization comes from the repository's atomic read-modify-write update.
type IngestionService struct {
	ingestions  repository.IngestionRepository
	documents   repository.DocumentRepository
	queue       queue.Client
	invalidator SearchInvalidator
	metrics     *metrics.Metrics
	logger      *log.Logger
}

type IngestionServiceDependencies struct {
	Ingestions  repository.IngestionRepository
	Documents   repository.DocumentRepository
	Queue       queue.Client
	Invalidator SearchInvalidator
	Metrics     *metrics.Metrics
	Logger      *log.Logger
}

func NewIngestionService(deps IngestionServiceDependencies) *IngestionService {
	return &IngestionService{
		ingestions:  deps.Ingestions,
		documents:   deps.Documents,
		queue:       deps.Queue,
		invalidator: deps.Invalidator,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
}

// Create registers a new ingestion for a document in queued state. Unless the
// config explicitly disables auto processing, dispatch is triggered
// immediately; dispatch failures surface as a failed ingestion, never as an
// error from Create.
func (s *IngestionService) Create(
	ctx context.Context,
	documentID string,
	userID string,
	config domain.ProcessingConfig,
) (*domain.Ingestion, error) {
	if _, err := s.documents.Get(ctx, documentID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ingestion := &domain.Ingestion{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		Status:     domain.IngestionStatusQueued,
		Progress:   0,
		Config:     config,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.ingestions.Create(ctx, ingestion); err != nil {
		return nil, fmt.Errorf("create ingestion: %w", err)
	}
	s.metrics.Transition(string(domain.IngestionStatusQueued))

	if config.AutoDispatch() {
		if err := s.Dispatch(ctx, ingestion.ID, userID); err != nil && s.logger != nil {
			s.logger.Printf("auto dispatch failed ingestion_id=%s err=%v", ingestion.ID, err)
		}
		if current, err := s.ingestions.Get(ctx, ingestion.ID); err == nil {
			return current, nil
		}
	}
	return ingestion, nil
}

// Reprocess starts a fresh ingestion for a document; the prior attempt keeps
// whatever terminal state it reached.
func (s *IngestionService) Reprocess(
	ctx context.Context,
	documentID string,
	userID string,
	config domain.ProcessingConfig,
) (*domain.Ingestion, error) {
	return s.Create(ctx, documentID, userID, config)
}

// Dispatch builds a processing job from the document metadata and the
// ingestion's resolved config, enqueues it, and moves the ingestion to
// processing. An enqueue failure is converted into a failed ingestion and is
// not returned to the caller.
func (s *IngestionService) Dispatch(ctx context.Context, ingestionID, userID string) error {
	ingestion, err := s.ingestions.Get(ctx, ingestionID)
	if err != nil {
		return err
	}
	if ingestion.UserID != userID {
		return ErrForbidden
	}
	if ingestion.Status != domain.IngestionStatusQueued {
		return ErrInvalidState
	}

	document, err := s.documents.Get(ctx, ingestion.DocumentID)
	if err != nil {
		return err
	}

	resolved := ingestion.Config.Resolved()
	job := domain.ProcessingJob{
		IngestionID: ingestion.ID,
		DocumentID:  document.ID,
		UserID:      ingestion.UserID,
		FileName:    document.FileName,
		FileType:    document.FileType,
		FilePath:    document.FilePath,
		Config:      resolved,
		RequestedAt: time.Now().UTC(),
	}

	jobID, err := s.queue.Enqueue(ctx, job, queue.Options{
		Priority: resolved.Priority,
		Attempts: dispatchAttempts,
	})
	if err != nil {
		s.metrics.Dispatch("error")
		s.failDispatch(ctx, ingestion, err)
		return nil
	}

	_, err = s.ingestions.Update(ctx, ingestion.ID, func(current *domain.Ingestion) error {
		if current.Status != domain.IngestionStatusQueued {
			return ErrInvalidState
		}
		current.Status = domain.IngestionStatusProcessing
		if current.StartedAt == nil {
			startedAt := time.Now().UTC()
			current.StartedAt = &startedAt
		}
		current.Logs.JobID = jobID
		return nil
	})
	if err != nil {
		// The ingestion moved under us (e.g. cancelled between enqueue and
		// update); drop the job we just queued.
		_, _ = s.queue.Cancel(ctx, jobID)
		if errors.Is(err, ErrInvalidState) {
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	s.metrics.Dispatch("ok")
	s.metrics.Transition(string(domain.IngestionStatusProcessing))
	if s.logger != nil {
		s.logger.Printf("ingestion dispatched ingestion_id=%s document_id=%s job_id=%s priority=%d",
			ingestion.ID, document.ID, jobID, resolved.Priority)
	}
	return nil
}

func (s *IngestionService) failDispatch(ctx context.Context, ingestion *domain.Ingestion, cause error) {
	message := dispatchFailurePrefix + cause.Error()

	_, err := s.ingestions.Update(ctx, ingestion.ID, func(current *domain.Ingestion) error {
		if current.Status.Terminal() {
			return errCallbackConflict
		}
		current.Status = domain.IngestionStatusFailed
		current.Error = message
		if current.CompletedAt == nil {
			completedAt := time.Now().UTC()
			current.CompletedAt = &completedAt
		}
		return nil
	})
	if err != nil {
		if s.logger != nil && !errors.Is(err, errCallbackConflict) {
			s.logger.Printf("mark dispatch failure failed ingestion_id=%s err=%v", ingestion.ID, err)
		}
		return
	}

	s.metrics.Transition(string(domain.IngestionStatusFailed))
	if err := s.documents.SetStatus(ctx, ingestion.DocumentID, domain.DocumentStatusFailed); err != nil && s.logger != nil {
		s.logger.Printf("mirror document status failed document_id=%s err=%v", ingestion.DocumentID, err)
	}
	if s.logger != nil {
		s.logger.Printf("ingestion dispatch failed ingestion_id=%s err=%v", ingestion.ID, cause)
	}
}

// ReportDispatchFailure converges the stored record when the queue exhausts
// its forward retries: no worker ever received the job, so no result callback
// will arrive, and the ingestion would otherwise stay processing forever.
// Wired as the queue's dispatch-failure handler.
func (s *IngestionService) ReportDispatchFailure(ctx context.Context, job domain.ProcessingJob, message string) {
	if job.IngestionID == "" {
		return
	}
	err := s.ApplyCallback(ctx, job.IngestionID, domain.ProcessingResult{
		Success: false,
		Errors:  []string{dispatchFailurePrefix + message},
	})
	if err != nil && s.logger != nil {
		s.logger.Printf("report dispatch failure failed ingestion_id=%s err=%v", job.IngestionID, err)
	}
}

// ApplyCallback applies the worker fleet's result to an ingestion. Terminal
// ingestions are left untouched and the call still succeeds, so at-least-once
// callback delivery and late results after cancellation are harmless.
func (s *IngestionService) ApplyCallback(
	ctx context.Context,
	ingestionID string,
	result domain.ProcessingResult,
) error {
	var target domain.IngestionStatus

	updated, err := s.ingestions.Update(ctx, ingestionID, func(current *domain.Ingestion) error {
		if current.Status.Terminal() {
			return errCallbackConflict
		}

		resultCopy := result
		current.Logs.ProcessingResult = &resultCopy

		if result.Success {
			current.Status = domain.IngestionStatusCompleted
			current.Progress = 100
			current.Error = ""
		} else {
			current.Status = domain.IngestionStatusFailed
			current.Error = strings.Join(result.Errors, "; ")
		}
		if current.CompletedAt == nil {
			completedAt := time.Now().UTC()
			current.CompletedAt = &completedAt
		}
		target = current.Status
		return nil
	})
	if err != nil {
		if errors.Is(err, errCallbackConflict) {
			s.metrics.Callback("ignored")
			if s.logger != nil {
				s.logger.Printf("callback for terminal ingestion ignored ingestion_id=%s", ingestionID)
			}
			return nil
		}
		return err
	}

	documentStatus := domain.DocumentStatusProcessed
	outcome := "completed"
	if target == domain.IngestionStatusFailed {
		documentStatus = domain.DocumentStatusFailed
		outcome = "failed"
	}

	s.metrics.Callback(outcome)
	s.metrics.Transition(string(target))

	if err := s.documents.SetStatus(ctx, updated.DocumentID, documentStatus); err != nil && s.logger != nil {
		s.logger.Printf("mirror document status failed document_id=%s err=%v", updated.DocumentID, err)
	}

	if jobID := updated.Logs.JobID; jobID != "" {
		if result.Success {
			_ = s.queue.Complete(ctx, jobID, updated.Logs.ProcessingResult)
		} else {
			_ = s.queue.Fail(ctx, jobID, updated.Error)
		}
	}

	if result.Success && s.invalidator != nil {
		s.invalidator.InvalidateUser(updated.UserID)
	}

	if s.logger != nil {
		s.logger.Printf("callback applied ingestion_id=%s status=%s", ingestionID, target)
	}
	return nil
}

// ResolveCallback maps an inbound worker callback, addressed by document, to
// the right ingestion: the most recent non-terminal one, falling back to the
// most recent overall.
func (s *IngestionService) ResolveCallback(
	ctx context.Context,
	documentID string,
	result domain.ProcessingResult,
) (string, error) {
	candidates, err := s.ingestions.FindMany(ctx, domain.IngestionFilter{
		DocumentID: documentID,
		Statuses: []domain.IngestionStatus{
			domain.IngestionStatusQueued,
			domain.IngestionStatusProcessing,
		},
		Limit: 1,
	})
	if err != nil {
		return "", fmt.Errorf("resolve callback: %w", err)
	}
	if len(candidates) == 0 {
		candidates, err = s.ingestions.FindMany(ctx, domain.IngestionFilter{
			DocumentID: documentID,
			Limit:      1,
		})
		if err != nil {
			return "", fmt.Errorf("resolve callback: %w", err)
		}
	}
	if len(candidates) == 0 {
		return "", repository.ErrNotFound
	}

	ingestionID := candidates[0].ID
	return ingestionID, s.ApplyCallback(ctx, ingestionID, result)
}

// Cancel stops an owned, still-active ingestion. Cancellation is cooperative:
// the queue is asked to drop the job, but the ingestion becomes cancelled
// regardless; a worker's late callback is then rejected by the terminal-state
// rule in ApplyCallback.
func (s *IngestionService) Cancel(ctx context.Context, ingestionID, userID string) (*domain.Ingestion, error) {
	ingestion, err := s.ingestions.Get(ctx, ingestionID)
	if err != nil {
		return nil, err
	}
	if ingestion.UserID != userID {
		return nil, ErrForbidden
	}
	if !ingestion.Status.Active() {
		return nil, ErrInvalidState
	}

	if jobID := ingestion.Logs.JobID; jobID != "" {
		cancelled, err := s.queue.Cancel(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("cancel job: %w", err)
		}
		if !cancelled && s.logger != nil {
			s.logger.Printf("queue job already finished, cancelling ingestion anyway job_id=%s", jobID)
		}
	}

	updated, err := s.ingestions.Update(ctx, ingestionID, func(current *domain.Ingestion) error {
		if !current.Status.Active() {
			return ErrInvalidState
		}
		current.Status = domain.IngestionStatusCancelled
		current.Error = cancelledByUserMessage
		if current.CompletedAt == nil {
			completedAt := time.Now().UTC()
			current.CompletedAt = &completedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(domain.IngestionStatusCancelled))
	if err := s.documents.SetStatus(ctx, updated.DocumentID, domain.DocumentStatusFailed); err != nil && s.logger != nil {
		s.logger.Printf("mirror document status failed document_id=%s err=%v", updated.DocumentID, err)
	}
	if s.logger != nil {
		s.logger.Printf("ingestion cancelled ingestion_id=%s user_id=%s", ingestionID, userID)
	}
	return updated, nil
}

// IngestionStatusView is the live view of one ingestion, overlaid with queue
// job state while processing.
type IngestionStatusView struct {
	IngestionID string                 `json:"ingestion_id"`
	DocumentID  string                 `json:"document_id"`
	Status      domain.IngestionStatus `json:"status"`
	Progress    int                    `json:"progress"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Job         *queue.JobStatus       `json:"job,omitempty"`
}

// Status returns the current status. While the ingestion is not terminal and
// a queue job is recorded, the live job state takes precedence for progress,
// and a dispatch-failed job surfaces as a failed status.
func (s *IngestionService) Status(ctx context.Context, ingestionID string) (*IngestionStatusView, error) {
	ingestion, err := s.ingestions.Get(ctx, ingestionID)
	if err != nil {
		return nil, err
	}

	view := &IngestionStatusView{
		IngestionID: ingestion.ID,
		DocumentID:  ingestion.DocumentID,
		Status:      ingestion.Status,
		Progress:    ingestion.Progress,
		Error:       ingestion.Error,
		StartedAt:   ingestion.StartedAt,
		CompletedAt: ingestion.CompletedAt,
	}

	if ingestion.Status.Terminal() || ingestion.Logs.JobID == "" {
		return view, nil
	}

	jobStatus, err := s.queue.Status(ctx, ingestion.Logs.JobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return view, nil
		}
		return nil, fmt.Errorf("query job status: %w", err)
	}

	view.Job = jobStatus
	view.Progress = jobStatus.Progress
	if jobStatus.State == queue.StateFailed {
		view.Status = domain.IngestionStatusFailed
		view.Error = jobStatus.Error
	}
	return view, nil
}

// Get returns the stored ingestion record.
func (s *IngestionService) Get(ctx context.Context, ingestionID string) (*domain.Ingestion, error) {
	return s.ingestions.Get(ctx, ingestionID)
}

// List returns the caller's ingestions, most recent first.
func (s *IngestionService) List(ctx context.Context, userID string, limit int) ([]*domain.Ingestion, error) {
	return s.ingestions.FindMany(ctx, domain.IngestionFilter{UserID: userID, Limit: limit})
}
