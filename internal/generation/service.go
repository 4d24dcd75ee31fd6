package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avatarforge/backend/internal/infra"
	"github.com/avatarforge/backend/internal/models"
	"github.com/avatarforge/backend/internal/provider"
)

// TaskStore is the durable task record, scoped to what the service needs.
type TaskStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.GenerationTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error)
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.GenerationTask, error)
	UpdateState(ctx context.Context, id uuid.UUID, newState string, fields StateUpdate) error
}

// Ledger is the credit ledger surface the orchestrator uses.
type Ledger interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, taskID uuid.UUID) (uuid.UUID, error)
	Refund(ctx context.Context, userID uuid.UUID, amount int, taskID uuid.UUID) (uuid.UUID, error)
}

// ProjectStore verifies ownership at submission and records the outcome.
type ProjectStore interface {
	GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Project, error)
	SetOutcome(ctx context.Context, id uuid.UUID, status string, videoURL *string) error
}

// PromptOptimizer rewrites a raw prompt before submission. Best-effort.
type PromptOptimizer interface {
	OptimizePrompt(ctx context.Context, userInput string) (string, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EnqueueTxFunc schedules the background generation job inside the submission
// transaction. Provided by main as a closure over river.Client.InsertTx.
type EnqueueTxFunc func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error

const refundAttempts = 3

// Service owns the generation-task state machine. The submission path is
// synchronous and returns once the reservation and task record are committed;
// Execute runs later as an independent unit of work, one per task.
type Service struct {
	pool      TxBeginner
	tasks     TaskStore
	projects  ProjectStore
	ledger    Ledger
	provider  provider.Client
	optimizer PromptOptimizer
	enqueue   EnqueueTxFunc
	log       infra.Logger

	pollInterval  time.Duration
	pollBudget    time.Duration
	refundBackoff time.Duration
}

// Options bundles the service dependencies. Optimizer may be nil.
type Options struct {
	Pool      TxBeginner
	Tasks     TaskStore
	Projects  ProjectStore
	Ledger    Ledger
	Provider  provider.Client
	Optimizer PromptOptimizer
	Enqueue   EnqueueTxFunc
	Logger    infra.Logger

	PollInterval time.Duration
	PollBudget   time.Duration
}

// NewService returns a generation service.
func NewService(opts Options) *Service {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	pollBudget := opts.PollBudget
	if pollBudget <= 0 {
		pollBudget = 300 * time.Second
	}
	return &Service{
		pool:          opts.Pool,
		tasks:         opts.Tasks,
		projects:      opts.Projects,
		ledger:        opts.Ledger,
		provider:      opts.Provider,
		optimizer:     opts.Optimizer,
		enqueue:       opts.Enqueue,
		log:           opts.Logger,
		pollInterval:  pollInterval,
		pollBudget:    pollBudget,
		refundBackoff: time.Second,
	}
}

// SubmitRequest describes one commissioned video generation.
type SubmitRequest struct {
	ProjectID      uuid.UUID
	Prompt         string
	Model          string
	ImageURL       string
	Duration       int
	OptimizePrompt bool
}

// Submit reserves credits and creates the task record, then hands the job to
// the background worker. The reservation, the task insert and the job enqueue
// are one database transaction: either the user is charged and the task
// exists, or neither happened.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, req SubmitRequest) (*models.GenerationTask, error) {
	if _, err := s.projects.GetForUser(ctx, req.ProjectID, userID); err != nil {
		return nil, err
	}

	prompt := req.Prompt
	if s.optimizer != nil && req.OptimizePrompt {
		optimized, err := s.optimizer.OptimizePrompt(ctx, req.Prompt)
		if err != nil {
			s.log.Warn().Err(err).Msg("prompt optimizer failed, using raw prompt")
		} else {
			prompt = optimized
		}
	}

	task := &models.GenerationTask{
		ID:              uuid.New(),
		UserID:          userID,
		ProjectID:       req.ProjectID,
		Model:           req.Model,
		Prompt:          prompt,
		Duration:        req.Duration,
		CreditsReserved: models.VideoGenerationCost,
		Status:          models.TaskStatusPending,
	}
	if req.ImageURL != "" {
		task.ImageURL = &req.ImageURL
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.ledger.ReserveTx(ctx, tx, userID, task.CreditsReserved, task.ID); err != nil {
		return nil, err
	}
	if err := s.tasks.CreateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := s.enqueue(ctx, tx, task.ID); err != nil {
		return nil, fmt.Errorf("enqueue generation job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask returns the task snapshot, visible only to its creator.
func (s *Service) GetTask(ctx context.Context, taskID, userID uuid.UUID) (*models.GenerationTask, error) {
	return s.tasks.GetForUser(ctx, taskID, userID)
}

// Execute drives one task from submission through polling to its terminal
// state. It is safe to run again after a crash or queue retry: a task that is
// already terminal is left alone.
func (s *Service) Execute(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Terminal() {
		return nil
	}

	var ref provider.JobRef
	if task.Status == models.TaskStatusPending {
		ref, err = s.provider.Submit(ctx, provider.GenerationSpec{
			Model:    task.Model,
			Prompt:   task.Prompt,
			ImageURL: derefString(task.ImageURL),
			Duration: task.Duration,
		})
		if err != nil {
			s.failTask(ctx, task, fmt.Sprintf("provider submission failed: %v", err))
			return nil
		}
		refStr := string(ref)
		if err := s.tasks.UpdateState(ctx, task.ID, models.TaskStatusProcessing, StateUpdate{ProviderJobRef: &refStr}); err != nil {
			// Could not record processing; the poll loop below would run
			// against a task record still marked pending. Fail and refund.
			s.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("record processing state failed")
			s.failTask(ctx, task, "internal fault while recording submission")
			return nil
		}
		task.Status = models.TaskStatusProcessing
		task.ProviderJobRef = &refStr
	} else {
		ref = provider.JobRef(derefString(task.ProviderJobRef))
	}

	s.pollToCompletion(ctx, task, ref)
	return nil
}

// pollToCompletion observes the provider job until it reaches a terminal
// verdict or the wall-clock budget runs out. Polling is sequential; there is
// never more than one in-flight status check per task.
func (s *Service) pollToCompletion(ctx context.Context, task *models.GenerationTask, ref provider.JobRef) {
	deadline := time.Now().Add(s.pollBudget)
	for {
		status, err := s.provider.Poll(ctx, ref)
		var pollErr *provider.PollError
		switch {
		case errors.As(err, &pollErr) && pollErr.Permanent:
			// The vendor rejected the status request itself (unknown job
			// ref and the like); waiting out the budget cannot help.
			s.failTask(ctx, task, fmt.Sprintf("provider rejected status poll: %v", err))
			return
		case err != nil:
			// Transient fault that outlived the client's retry budget.
			// Non-terminal: keep polling until the wall clock runs out.
			s.log.Warn().Err(err).Str("task_id", task.ID.String()).Msg("poll attempt failed")
		case status.State == provider.StateSucceeded:
			if status.ResultURL == "" {
				s.failTask(ctx, task, "provider reported success without a result reference")
				return
			}
			s.completeTask(ctx, task, status.ResultURL)
			return
		case status.State == provider.StateFailed:
			s.failTask(ctx, task, fmt.Sprintf("provider reported failure: %s", status.Message))
			return
		}

		if time.Now().After(deadline) {
			// The upstream job may still be running; we have no way to stop
			// it. The task is settled and refunded regardless.
			s.failTask(ctx, task, fmt.Sprintf("timeout: no terminal provider state within %s", s.pollBudget))
			return
		}
		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			s.failTask(context.WithoutCancel(ctx), task, fmt.Sprintf("generation aborted: %v", ctx.Err()))
			return
		}
	}
}

func (s *Service) completeTask(ctx context.Context, task *models.GenerationTask, resultURL string) {
	err := s.tasks.UpdateState(ctx, task.ID, models.TaskStatusCompleted, StateUpdate{ResultURL: &resultURL})
	if errors.Is(err, ErrInvalidTransition) {
		// Another execution already settled this task.
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("record completed state failed")
		return
	}
	if err := s.projects.SetOutcome(ctx, task.ProjectID, models.ProjectStatusCompleted, &resultURL); err != nil {
		s.log.Warn().Err(err).Str("project_id", task.ProjectID.String()).Msg("project outcome update failed")
	}
	s.log.Info().Str("task_id", task.ID.String()).Msg("generation completed")
}

// failTask settles a task as failed and returns the reserved credits. The
// refund is issued exactly once per task: the transition guard stops a second
// settlement, and the ledger itself is idempotent per task id.
func (s *Service) failTask(ctx context.Context, task *models.GenerationTask, detail string) {
	detail = models.TruncateErrorDetail(detail)
	err := s.tasks.UpdateState(ctx, task.ID, models.TaskStatusFailed, StateUpdate{ErrorDetail: &detail})
	if errors.Is(err, ErrInvalidTransition) {
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("record failed state failed")
		return
	}
	if err := s.projects.SetOutcome(ctx, task.ProjectID, models.ProjectStatusFailed, nil); err != nil {
		s.log.Warn().Err(err).Str("project_id", task.ProjectID.String()).Msg("project outcome update failed")
	}
	s.log.Info().Str("task_id", task.ID.String()).Str("detail", detail).Msg("generation failed")
	s.refundWithRetry(ctx, task)
}

// refundWithRetry returns the reservation, retrying transient ledger faults.
// A refund that cannot be written is a debt to the user; it is logged at
// error level for alerting, never dropped silently.
func (s *Service) refundWithRetry(ctx context.Context, task *models.GenerationTask) {
	var lastErr error
	for attempt := 0; attempt < refundAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.refundBackoff):
			case <-ctx.Done():
			}
		}
		if _, err := s.ledger.Refund(ctx, task.UserID, task.CreditsReserved, task.ID); err == nil {
			return
		} else {
			lastErr = err
		}
	}
	s.log.Error().Err(lastErr).
		Str("task_id", task.ID.String()).
		Str("user_id", task.UserID.String()).
		Int("credits", task.CreditsReserved).
		Msg("refund failed after retries, user is owed credits")
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
