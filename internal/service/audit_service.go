package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univent/timetable-api/internal/models"
	"github.com/univent/timetable-api/pkg/config"
	"github.com/univent/timetable-api/pkg/jobs"
)

type auditRepository interface {
	Insert(ctx context.Context, record *models.AuditRecord) error
	ListByTimetable(ctx context.Context, timetableID string, limit int) ([]models.AuditRecord, error)
}

// AuditService writes the scheduling audit trail through an in-memory worker
// queue so request handlers never block on audit persistence.
type AuditService struct {
	repo   auditRepository
	queue  *jobs.Queue[models.AuditRecord]
	logger *zap.Logger
}

// NewAuditService wires the audit repository behind a retrying job queue.
func NewAuditService(repo auditRepository, cfg config.AuditConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job[models.AuditRecord]) error {
		record := job.Payload
		return repo.Insert(ctx, &record)
	}
	queue := jobs.NewQueue("audit", handler, jobs.Config{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return &AuditService{repo: repo, queue: queue, logger: logger}
}

// Trail returns the persisted audit records for one timetable, newest first.
func (s *AuditService) Trail(ctx context.Context, timetableID string, limit int) ([]models.AuditRecord, error) {
	return s.repo.ListByTimetable(ctx, timetableID, limit)
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues one audit record. A full or stopped queue is logged, never
// surfaced to the caller.
func (s *AuditService) Record(record models.AuditRecord) {
	if s == nil {
		return
	}
	job := jobs.Job[models.AuditRecord]{ID: uuid.New().String(), Kind: record.Action, Payload: record}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("dropping audit record", zap.String("action", record.Action), zap.Error(err))
	}
}
