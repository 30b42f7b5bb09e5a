package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/internal/domain"
	"github.com/outflowhq/outflow/pkg/outflow/core"
)

// Options bounds the scheduler and the dispatch retry policy.
type Options struct {
	BatchSize           int
	WorkerCount         int
	MaxDispatchAttempts int
	RetryBase           time.Duration
	RetryCap            time.Duration
	RepairInterval      time.Duration
	RepairAfter         time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 5
	}
	if o.MaxDispatchAttempts <= 0 {
		o.MaxDispatchAttempts = 5
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 30 * time.Second
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 30 * time.Minute
	}
	if o.RepairInterval <= 0 {
		o.RepairInterval = time.Minute
	}
	if o.RepairAfter <= 0 {
		o.RepairAfter = 5 * time.Minute
	}
}

// Engine advances due enrollments through their workflow's step graph.
// Work is partitioned across workers by enrollment id so no two workers
// ever hold the same enrollment; the version column is the second line of
// defense against overlapping ticks and other executor instances.
type Engine struct {
	Definitions DefinitionRepo
	Enrollments EnrollmentRepo
	Audit       AuditRepo
	Ledger      CreditLedger
	Dispatcher  *Dispatcher
	Clock       core.Clock
	Options     Options

	executorName string
	wakeup       chan struct{}
	queues       []chan domain.Enrollment

	capMu    sync.Mutex
	capLocks map[int64]*sync.Mutex
}

func NewEngine(definitions DefinitionRepo, enrollments EnrollmentRepo, audit AuditRepo,
	ledger CreditLedger, dispatcher *Dispatcher, clock core.Clock, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		Definitions:  definitions,
		Enrollments:  enrollments,
		Audit:        audit,
		Ledger:       ledger,
		Dispatcher:   dispatcher,
		Clock:        clock,
		Options:      opts,
		executorName: executorName(),
		wakeup:       make(chan struct{}, 1),
		capLocks:     make(map[int64]*sync.Mutex),
	}
}

func executorName() string {
	if name := config.GetSystemSettingString(config.EXECUTOR_NAME); name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "outflow-engine"
	}
	return hostname
}

// Start runs the scheduler tick loop until the context is cancelled.
func (e *Engine) Start(ctx context.Context, pollInterval time.Duration) {
	e.queues = make([]chan domain.Enrollment, e.Options.WorkerCount)
	for i := range e.queues {
		e.queues[i] = make(chan domain.Enrollment, e.Options.BatchSize)
		go e.worker(ctx, i)
	}

	go e.startRepairService(ctx)

	slog.Info("Starting workflow engine", "workers", e.Options.WorkerCount,
		"batch_size", e.Options.BatchSize, "poll_interval", pollInterval.String(),
		"executor", e.executorName)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Workflow engine stopping due to context cancel")
			return
		case <-ticker.C:
			e.pollAndQueue(ctx)
		case <-e.wakeup:
			e.pollAndQueue(ctx)
		}
	}
}

// Wakeup nudges the scheduler outside its tick, e.g. right after a new
// enrollment is created.
func (e *Engine) Wakeup() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

// pollAndQueue scans due enrollments, claims each, and hands it to the
// worker owning its partition.
func (e *Engine) pollAndQueue(ctx context.Context) {
	slog.Debug("Polling for due enrollments")

	due, err := e.Enrollments.FindDue(e.Options.BatchSize)
	if err != nil {
		slog.Error("Error fetching due enrollments", "error", err)
		return
	}

	for _, enr := range *due {
		if !e.Enrollments.Claim(enr.ID, e.executorName, enr.Version) {
			slog.InfoContext(ctx, "Unable to claim enrollment, picked up elsewhere",
				"enrollment_id", enr.ID, "contact_id", enr.ContactID)
			continue
		}
		enr.Version++
		_, _ = e.Audit.Save(&domain.AuditEvent{
			EnrollmentID:   enr.ID,
			WorkflowID:     enr.WorkflowID,
			OrganizationID: enr.OrganizationID,
			Type:           domain.AuditClaimed,
			Name:           string(enr.Status),
			Text:           "claimed by " + e.executorName,
		})

		idx := int(enr.ID % int64(len(e.queues)))
		select {
		case e.queues[idx] <- enr:
		case <-ctx.Done():
			return
		}
	}
}

// worker drains one partition. Enrollment ids map to exactly one partition
// so a single enrollment is never processed concurrently here.
func (e *Engine) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case enr := <-e.queues[id]:
			slog.Info("Worker starting enrollment", "worker_id", id, "enrollment_id", enr.ID)
			e.Advance(ctx, &enr)
			slog.Info("Worker finished enrollment", "worker_id", id, "enrollment_id", enr.ID)
		}
	}
}

// startRepairService finds enrollments still claimed long after their
// executor went quiet (a crash mid-step) and frees them for the next tick.
func (e *Engine) startRepairService(ctx context.Context) {
	ticker := time.NewTicker(e.Options.RepairInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Enrollment repair service stopping due to context cancel")
			return
		case <-ticker.C:
			cutoff := e.Clock.Now().Add(-e.Options.RepairAfter)
			stuck, err := e.Enrollments.FindStaleClaims(cutoff, 100)
			if err != nil {
				slog.Error("Error finding stuck enrollments", "error", err)
				continue
			}
			for _, enr := range *stuck {
				slog.Warn("Repairing stuck enrollment", "enrollment_id", enr.ID,
					"claimed_by", enr.ClaimedBy.String, "status", enr.Status)
				if e.Enrollments.ReleaseStaleClaim(enr.ID, enr.ClaimedAt.Time) {
					_, _ = e.Audit.Save(&domain.AuditEvent{
						EnrollmentID:   enr.ID,
						WorkflowID:     enr.WorkflowID,
						OrganizationID: enr.OrganizationID,
						Type:           domain.AuditRepaired,
						Name:           string(enr.Status),
						Text:           "released stale claim held by " + enr.ClaimedBy.String,
					})
				}
			}
		}
	}
}
