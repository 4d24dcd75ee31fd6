package generation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

type GenerateVideoArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (GenerateVideoArgs) Kind() string { return "generate_video" }

// GenerateWorker runs one generation task end-to-end. All retry safety lives
// in Service.Execute, so a queue-level retry after a crash is harmless.
type GenerateWorker struct {
	river.WorkerDefaults[GenerateVideoArgs]
	svc *Service
}

func NewGenerateWorker(svc *Service) *GenerateWorker {
	return &GenerateWorker{svc: svc}
}

func (w *GenerateWorker) Work(ctx context.Context, job *river.Job[GenerateVideoArgs]) error {
	return w.svc.Execute(ctx, job.Args.TaskID)
}

// Timeout sizes the job context to the full polling budget plus slack for the
// submission call and settlement writes. Without this override river cancels
// the job context at its one-minute default, which would settle and refund a
// still-running generation long before the wall-clock budget is spent.
func (w *GenerateWorker) Timeout(*river.Job[GenerateVideoArgs]) time.Duration {
	return w.svc.pollBudget + time.Minute
}
