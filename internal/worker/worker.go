package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-rewards/backend/internal/rewards"
	"github.com/aura-rewards/backend/pkg/queue"
	"github.com/aura-rewards/backend/pkg/storage"
)

// Processor drains the background queues: failed-attempt rows go to Postgres,
// session audit snapshots go to S3. Both are best-effort work the settlement
// path refuses to block on.
type Processor struct {
	rewardsRepo *rewards.Repository
	s3          *storage.S3
	queue       *queue.Queue
	logger      *zap.Logger
}

// NewProcessor creates a background job processor. s3 may be nil, in which
// case audit export jobs are acknowledged and dropped.
func NewProcessor(rewardsRepo *rewards.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{rewardsRepo: rewardsRepo, s3: s3, queue: q, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeFailedAttempt:
		return p.processFailedAttempt(ctx, job)
	case queue.JobTypeAuditExport:
		return p.processAuditExport(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) processFailedAttempt(ctx context.Context, job *queue.Job) error {
	var payload queue.FailedAttemptPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.rewardsRepo.RecordFailedAttempt(ctx, &payload.Attempt); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	p.logger.Info("failed attempt recorded",
		zap.String("session_id", payload.Attempt.SessionID.String()),
		zap.Strings("reasons", payload.Attempt.Reasons))
	return nil
}

func (p *Processor) processAuditExport(ctx context.Context, job *queue.Job) error {
	var payload queue.AuditExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.s3 == nil || p.s3.AuditBucket() == "" {
		p.logger.Debug("audit export skipped, no bucket configured",
			zap.String("session_id", payload.SessionID.String()))
		return nil
	}

	key := storage.AuditKey(job.CreatedAt, payload.SessionID.String())
	url, err := p.s3.Upload(ctx, p.s3.AuditBucket(), key, "application/json", bytes.NewReader(payload.Snapshot))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	p.logger.Info("audit snapshot archived",
		zap.String("session_id", payload.SessionID.String()), zap.String("url", url))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, origin, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, origin); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
