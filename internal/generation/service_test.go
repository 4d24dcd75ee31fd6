package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/avatarforge/backend/internal/ledger"
	"github.com/avatarforge/backend/internal/models"
	"github.com/avatarforge/backend/internal/provider"
)

// ---
// Test doubles
// ---

// noopTx satisfies pgx.Tx for service-level tests that never touch a database.
type noopTx struct{}

func (noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(ctx context.Context) error          { return nil }
func (noopTx) Rollback(ctx context.Context) error        { return nil }
func (noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (noopTx) Conn() *pgx.Conn                                               { return nil }

type mockPool struct{}

func (mockPool) Begin(ctx context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// memTaskStore is an in-memory TaskStore that enforces the same transition
// rules as the SQL layer.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.GenerationTask
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[uuid.UUID]*models.GenerationTask)}
}

func (m *memTaskStore) CreateTx(ctx context.Context, tx pgx.Tx, t *models.GenerationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTaskStore) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.GenerationTask, error) {
	t, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *memTaskStore) UpdateState(ctx context.Context, id uuid.UUID, newState string, fields StateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if !models.IsValidTransition(t.Status, newState) {
		return ErrInvalidTransition
	}
	t.Status = newState
	if fields.ProviderJobRef != nil {
		t.ProviderJobRef = fields.ProviderJobRef
	}
	if fields.ResultURL != nil {
		t.ResultURL = fields.ResultURL
	}
	if fields.ErrorDetail != nil {
		t.ErrorDetail = fields.ErrorDetail
	}
	if t.Terminal() {
		now := time.Now()
		t.CompletedAt = &now
	}
	return nil
}

// recordingLedger counts reservations and refunds, mirroring the real
// ledger's per-task refund idempotency.
type recordingLedger struct {
	mu             sync.Mutex
	reserves       int
	refunds        map[uuid.UUID]int
	reserveErr     error
	refundErr      error
	refundFailures int // fail this many refund calls before succeeding
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{refunds: make(map[uuid.UUID]int)}
}

func (l *recordingLedger) ReserveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, taskID uuid.UUID) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserveErr != nil {
		return uuid.Nil, l.reserveErr
	}
	l.reserves++
	return uuid.New(), nil
}

func (l *recordingLedger) Refund(ctx context.Context, userID uuid.UUID, amount int, taskID uuid.UUID) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refundFailures > 0 {
		l.refundFailures--
		return uuid.Nil, errors.New("ledger unavailable")
	}
	if l.refundErr != nil {
		return uuid.Nil, l.refundErr
	}
	l.refunds[taskID]++
	return uuid.New(), nil
}

func (l *recordingLedger) refundCount(taskID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refunds[taskID]
}

type memProjectStore struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
	outcomes map[uuid.UUID]string
}

func newMemProjectStore() *memProjectStore {
	return &memProjectStore{
		projects: make(map[uuid.UUID]*models.Project),
		outcomes: make(map[uuid.UUID]string),
	}
}

func (m *memProjectStore) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok || p.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProjectStore) SetOutcome(ctx context.Context, id uuid.UUID, status string, videoURL *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[id] = status
	return nil
}

// scriptedClient replays a fixed sequence of poll outcomes.
type scriptedClient struct {
	mu          sync.Mutex
	submitRef   provider.JobRef
	submitErr   error
	submitCalls int
	polls       []pollStep
	pollCalls   int
}

type pollStep struct {
	status provider.Status
	err    error
}

func (c *scriptedClient) Submit(ctx context.Context, spec provider.GenerationSpec) (provider.JobRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitCalls++
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return c.submitRef, nil
}

func (c *scriptedClient) Poll(ctx context.Context, ref provider.JobRef) (*provider.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := c.polls[0]
	if len(c.polls) > 1 {
		c.polls = c.polls[1:]
	}
	c.pollCalls++
	if step.err != nil {
		return nil, step.err
	}
	st := step.status
	return &st, nil
}

// ---
// Harness
// ---

type harness struct {
	svc      *Service
	tasks    *memTaskStore
	ledger   *recordingLedger
	projects *memProjectStore
	client   *scriptedClient
	userID   uuid.UUID
	project  uuid.UUID
}

func newHarness(t *testing.T, client *scriptedClient, budget time.Duration) *harness {
	t.Helper()
	h := &harness{
		tasks:    newMemTaskStore(),
		ledger:   newRecordingLedger(),
		projects: newMemProjectStore(),
		client:   client,
		userID:   uuid.New(),
		project:  uuid.New(),
	}
	h.projects.projects[h.project] = &models.Project{ID: h.project, UserID: h.userID, Status: models.ProjectStatusDraft}
	h.svc = NewService(Options{
		Pool:         mockPool{},
		Tasks:        h.tasks,
		Projects:     h.projects,
		Ledger:       h.ledger,
		Provider:     client,
		Enqueue:      func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error { return nil },
		Logger:       zerolog.Nop(),
		PollInterval: time.Millisecond,
		PollBudget:   budget,
	})
	h.svc.refundBackoff = time.Millisecond
	return h
}

func (h *harness) submit(t *testing.T) *models.GenerationTask {
	t.Helper()
	task, err := h.svc.Submit(context.Background(), h.userID, SubmitRequest{
		ProjectID: h.project,
		Prompt:    "a fox leaps over a frozen river",
		Model:     "wan2.6-i2v",
		ImageURL:  "https://cdn.example.com/fox.png",
		Duration:  5,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return task
}

// ---
// Tests
// ---

func TestSubmit_ReservesAndCreatesPending(t *testing.T) {
	h := newHarness(t, &scriptedClient{}, time.Second)
	task := h.submit(t)

	if task.Status != models.TaskStatusPending {
		t.Fatalf("status = %q, want pending", task.Status)
	}
	if task.CreditsReserved != models.VideoGenerationCost {
		t.Fatalf("credits reserved = %d, want %d", task.CreditsReserved, models.VideoGenerationCost)
	}
	if h.ledger.reserves != 1 {
		t.Fatalf("reserve count = %d, want 1", h.ledger.reserves)
	}
	stored, err := h.tasks.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != models.TaskStatusPending {
		t.Fatalf("stored status = %q, want pending", stored.Status)
	}
}

func TestSubmit_InsufficientFunds(t *testing.T) {
	h := newHarness(t, &scriptedClient{}, time.Second)
	h.ledger.reserveErr = ledger.ErrInsufficientFunds

	_, err := h.svc.Submit(context.Background(), h.userID, SubmitRequest{
		ProjectID: h.project,
		Prompt:    "anything",
		Model:     "wan2.6-i2v",
		Duration:  5,
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if len(h.tasks.tasks) != 0 {
		t.Fatalf("task created despite failed reservation")
	}
}

func TestSubmit_UnknownProject(t *testing.T) {
	h := newHarness(t, &scriptedClient{}, time.Second)
	_, err := h.svc.Submit(context.Background(), h.userID, SubmitRequest{
		ProjectID: uuid.New(),
		Prompt:    "anything",
		Model:     "wan2.6-i2v",
		Duration:  5,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if h.ledger.reserves != 0 {
		t.Fatalf("credits reserved for unknown project")
	}
}

func TestExecute_Success(t *testing.T) {
	client := &scriptedClient{
		submitRef: "job-1",
		polls: []pollStep{
			{status: provider.Status{State: provider.StateRunning}},
			{status: provider.Status{State: provider.StateSucceeded, ResultURL: "https://videos.example.com/out.mp4"}},
		},
	}
	h := newHarness(t, client, time.Second)
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := h.tasks.GetByID(context.Background(), task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.ResultURL == nil || *got.ResultURL != "https://videos.example.com/out.mp4" {
		t.Fatalf("result url = %v", got.ResultURL)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	if n := h.ledger.refundCount(task.ID); n != 0 {
		t.Fatalf("refund count = %d, want 0 for a completed task", n)
	}
	if h.projects.outcomes[h.project] != models.ProjectStatusCompleted {
		t.Fatalf("project outcome = %q", h.projects.outcomes[h.project])
	}
}

func TestExecute_ProviderFailureRefundsOnce(t *testing.T) {
	client := &scriptedClient{
		submitRef: "job-1",
		polls: []pollStep{
			{status: provider.Status{State: provider.StateFailed, Message: "InternalError: rendering failed"}},
		},
	}
	h := newHarness(t, client, time.Second)
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := h.tasks.GetByID(context.Background(), task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.ErrorDetail == nil || !strings.Contains(*got.ErrorDetail, "rendering failed") {
		t.Fatalf("error detail = %v", got.ErrorDetail)
	}
	if n := h.ledger.refundCount(task.ID); n != 1 {
		t.Fatalf("refund count = %d, want exactly 1", n)
	}
	if h.projects.outcomes[h.project] != models.ProjectStatusFailed {
		t.Fatalf("project outcome = %q", h.projects.outcomes[h.project])
	}
}

func TestExecute_TransientPollsThenSuccess(t *testing.T) {
	client := &scriptedClient{
		submitRef: "job-1",
		polls: []pollStep{
			{err: errors.New("bad gateway")},
			{err: errors.New("bad gateway")},
			{status: provider.Status{State: provider.StateSucceeded, ResultURL: "https://videos.example.com/out.mp4"}},
		},
	}
	h := newHarness(t, client, time.Second)
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := h.tasks.GetByID(context.Background(), task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %q, want completed after transient faults", got.Status)
	}
	if n := h.ledger.refundCount(task.ID); n != 0 {
		t.Fatalf("refund count = %d, want 0", n)
	}
	if client.pollCalls != 3 {
		t.Fatalf("poll calls = %d, want 3", client.pollCalls)
	}
}

func TestExecute_BudgetExhaustedFailsAndRefunds(t *testing.T) {
	client := &scriptedClient{
		submitRef: "job-1",
		polls: []pollStep{
			{status: provider.Status{State: provider.StateRunning}},
		},
	}
	h := newHarness(t, client, 10*time.Millisecond)
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := h.tasks.GetByID(context.Background(), task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("status = %q, want failed after budget exhaustion", got.Status)
	}
	if got.ErrorDetail == nil || !strings.Contains(*got.ErrorDetail, "timeout") {
		t.Fatalf("error detail = %v, want timeout mention", got.ErrorDetail)
	}
	if n := h.ledger.refundCount(task.ID); n != 1 {
		t.Fatalf("refund count = %d, want 1", n)
	}
}

func TestExecute_SubmitFailureFailsAndRefunds(t *testing.T) {
	client := &scriptedClient{submitErr: &provider.SubmitError{Err: errors.New("InvalidParameter: bad image url")}}
	h := newHarness(t, client, time.Second)
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := h.tasks.GetByID(context.Background(), task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if n := h.ledger.refundCount(task.ID); n != 1 {
		t.Fatalf("refund count = %d, want 1", n)
	}
	if client.pollCalls != 0 {
		t.Fatalf("polled despite failed submission")
	}
}

func TestExecute_TerminalTaskIsNoOp(t *testing.T) {
	client := &scriptedClient{
		submitRef: "job-1",
		polls: []pollStep{
			{status: provider.Status{State: provider.StateFailed, Message: "boom"}},
		},
	}
	h := newHarness(t, client, time.Second)
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	// Queue-level retry after the task already settled.
	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	if n := h.ledger.refundCount(task.ID); n != 1 {
		t.Fatalf("refund count = %d after re-execution, want 1", n)
	}
	if client.submitCalls != 1 {
		t.Fatalf("submit calls = %d, want 1", client.submitCalls)
	}
}

func TestExecute_RefundRetriesTransientLedgerFault(t *testing.T) {
	client := &scriptedClient{
		submitRef: "job-1",
		polls: []pollStep{
			{status: provider.Status{State: provider.StateFailed, Message: "boom"}},
		},
	}
	h := newHarness(t, client, time.Second)
	h.ledger.refundFailures = 2
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n := h.ledger.refundCount(task.ID); n != 1 {
		t.Fatalf("refund count = %d, want 1 after retries", n)
	}
}

func TestExecute_SuccessWithoutResultURLFails(t *testing.T) {
	client := &scriptedClient{
		submitRef: "job-1",
		polls: []pollStep{
			{status: provider.Status{State: provider.StateSucceeded}},
		},
	}
	h := newHarness(t, client, time.Second)
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, _ := h.tasks.GetByID(context.Background(), task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("status = %q, want failed when success carries no result", got.Status)
	}
	if n := h.ledger.refundCount(task.ID); n != 1 {
		t.Fatalf("refund count = %d, want 1", n)
	}
}

func TestExecute_PermanentPollRejectionFailsAndRefunds(t *testing.T) {
	client := &scriptedClient{
		submitRef: "job-1",
		polls: []pollStep{
			{err: &provider.PollError{Err: errors.New("status 404: task not exist"), Permanent: true}},
		},
	}
	h := newHarness(t, client, time.Second)
	task := h.submit(t)

	if err := h.svc.Execute(context.Background(), task.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := h.tasks.GetByID(context.Background(), task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("status = %q, want failed on permanent rejection", got.Status)
	}
	if client.pollCalls != 1 {
		t.Fatalf("poll calls = %d, want 1 (no waiting out the budget)", client.pollCalls)
	}
	if n := h.ledger.refundCount(task.ID); n != 1 {
		t.Fatalf("refund count = %d, want 1", n)
	}
}
