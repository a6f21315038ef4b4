package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/leadnurture/internal/dispatch"
	appErrors "github.com/unclebandit/leadnurture/internal/errors"
	"github.com/unclebandit/leadnurture/internal/lock"
	"github.com/unclebandit/leadnurture/internal/model"
	"github.com/unclebandit/leadnurture/internal/queue"
	"github.com/unclebandit/leadnurture/internal/repository"
)

// TemplateSource resolves templates by name.
type TemplateSource interface {
	Get(name string) (*model.Template, error)
}

// RetryPolicy spaces out retries of a failing step.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int // consecutive failures before the instance fails; 0 = never
}

// Delay is the wait before retry number attempts (1-based).
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// TickResult counts what happened to the due instances of one tick.
type TickResult struct {
	Due       int `json:"due"`
	Advanced  int `json:"advanced"`
	Retried   int `json:"retried"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type tickCounters struct {
	advanced, retried, completed, failed, skipped, errors atomic.Int64
}

// Engine executes due campaign steps.
type Engine struct {
	Leads      repository.LeadRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Templates  TemplateSource
	Dispatcher dispatch.Dispatcher
	Locker     lock.Locker
	LeadLocks  *lock.KeyedMutex
	Events     queue.Publisher
	EventTopic string
	Retry      RetryPolicy

	Concurrency int
	BatchSize   int
	LeaseTTL    time.Duration
	Log         *zap.Logger

	once sync.Once
}

func (e *Engine) init() {
	e.once.Do(func() {
		if e.Locker == nil {
			e.Locker = lock.NewLocalLocker()
		}
		if e.LeadLocks == nil {
			e.LeadLocks = lock.NewKeyedMutex()
		}
		if e.Concurrency <= 0 {
			e.Concurrency = 1
		}
		if e.BatchSize <= 0 {
			e.BatchSize = 100
		}
		if e.LeaseTTL <= 0 {
			e.LeaseTTL = 2 * time.Minute
		}
		if e.Log == nil {
			e.Log = zap.NewNop()
		}
	})
}

// Tick processes every instance due at now. Errors on one instance are
// logged and counted; they never stop the others.
func (e *Engine) Tick(ctx context.Context, now time.Time) TickResult {
	e.init()

	var (
		res  TickResult
		cnt  tickCounters
		seen = map[string]bool{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Concurrency)

	for c, err := range e.Campaigns.DueInstances(ctx, now, e.BatchSize) {
		if err != nil {
			e.Log.Error("❌ due instance scan failed", zap.Error(err))
			cnt.errors.Add(1)
			break
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		res.Due++

		id := c.ID
		g.Go(func() error {
			e.processInstance(gctx, id, now, &cnt)
			return nil
		})
	}
	_ = g.Wait()

	res.Advanced = int(cnt.advanced.Load())
	res.Retried = int(cnt.retried.Load())
	res.Completed = int(cnt.completed.Load())
	res.Failed = int(cnt.failed.Load())
	res.Skipped = int(cnt.skipped.Load())
	res.Errors = int(cnt.errors.Load())
	return res
}

func (e *Engine) processInstance(ctx context.Context, id string, now time.Time, cnt *tickCounters) {
	log := e.Log.With(zap.String("campaign_id", id))
	defer func() {
		if r := recover(); r != nil {
			log.Error("❌ panic while processing campaign", zap.Any("panic", r))
			cnt.errors.Add(1)
		}
	}()

	release, ok, err := e.Locker.TryLock(ctx, "campaign:"+id, e.LeaseTTL)
	if err != nil {
		log.Error("lease failed", zap.Error(err))
		cnt.errors.Add(1)
		return
	}
	if !ok {
		log.Debug("campaign leased elsewhere")
		cnt.skipped.Add(1)
		return
	}
	defer release()

	// Reload under the lease; another worker may have moved it on.
	c, err := e.Campaigns.GetByID(ctx, id)
	if err != nil {
		log.Error("reload campaign failed", zap.Error(err))
		cnt.errors.Add(1)
		return
	}
	if !c.IsDue(now) {
		cnt.skipped.Add(1)
		return
	}
	log = log.With(zap.String("lead_id", c.LeadID), zap.Int("step_index", c.CurrentStepIndex))

	steps, err := e.resolveSteps(c)
	if err != nil {
		if errors.Is(err, appErrors.ErrTemplateMissing) {
			e.terminate(ctx, c, err.Error(), now, log, cnt)
			return
		}
		log.Error("resolve template failed", zap.Error(err))
		cnt.errors.Add(1)
		return
	}

	lead, err := e.Leads.GetByID(ctx, c.LeadID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			e.terminate(ctx, c, appErrors.NewLeadMissing(c.ID, c.LeadID).Error(), now, log, cnt)
			return
		}
		log.Error("load lead failed", zap.Error(err))
		cnt.errors.Add(1)
		return
	}

	idx := c.CurrentStepIndex
	step := steps[idx]
	result := e.send(ctx, BuildMessage(c, idx, step, lead))

	rec := model.StepRecord{StepIndex: idx, ExecutedAt: now, Outcome: model.OutcomeSuccess, Detail: result.Detail}
	if !result.Success {
		rec.Outcome = model.OutcomeFailure
	}
	if err := c.Advance(rec, steps, now, e.Retry.Delay(c.Attempts+1)); err != nil {
		log.Error("advance rejected", zap.Error(err))
		cnt.errors.Add(1)
		return
	}
	exhausted := !result.Success && e.Retry.MaxAttempts > 0 && c.Attempts >= e.Retry.MaxAttempts
	if exhausted {
		c.Fail(appErrors.NewDispatchFailure(c.ID, idx, result.Detail).Error(), now)
	}

	var update *model.LeadUpdate
	switch {
	case result.Success:
		update = &model.LeadUpdate{Engagement: 1, ContactAt: &now}
		if c.Status == model.CampaignStatusCompleted {
			update.HistoryStatus, update.At = model.CampaignStatusCompleted, now
		}
	case exhausted:
		update = &model.LeadUpdate{HistoryStatus: model.CampaignStatusFailed, At: now}
	}

	unlock := e.LeadLocks.Lock(c.LeadID)
	applied, err := e.Campaigns.SaveProgress(ctx, c, idx, &rec, update)
	unlock()
	if err != nil {
		log.Error("❌ save progress failed", zap.Error(err))
		cnt.errors.Add(1)
		return
	}
	if !applied {
		// Paused or moved on while the message was in flight.
		log.Info("campaign changed during dispatch, progress discarded")
		cnt.skipped.Add(1)
		return
	}

	switch {
	case result.Success:
		e.emit(ctx, queue.EventStepExecuted, c, map[string]any{"step_index": idx, "template_id": step.TemplateID})
		if c.Status == model.CampaignStatusCompleted {
			cnt.completed.Add(1)
			e.emit(ctx, queue.EventCampaignCompleted, c, nil)
			log.Info("✅ campaign completed")
		} else {
			cnt.advanced.Add(1)
		}
	case exhausted:
		log.Warn("campaign failed after repeated dispatch failures", zap.Int("attempts", c.Attempts), zap.String("detail", result.Detail))
		cnt.failed.Add(1)
		e.emit(ctx, queue.EventCampaignFailed, c, map[string]any{"error": c.Error})
	default:
		log.Warn("⚠️ dispatch failed, step will be retried",
			zap.Int("attempts", c.Attempts), zap.Time("retry_at", c.NextActionAt), zap.String("detail", result.Detail))
		cnt.retried.Add(1)
		e.emit(ctx, queue.EventStepFailed, c, map[string]any{"step_index": idx, "detail": result.Detail, "attempts": c.Attempts})
	}
}

// resolveSteps prefers the snapshot taken at start; older instances look the
// template up by name.
func (e *Engine) resolveSteps(c *model.CampaignInstance) ([]model.Step, error) {
	steps := c.Steps
	if len(steps) == 0 {
		if e.Templates == nil {
			return nil, appErrors.NewTemplateMissing(c.ID, "no template source for "+c.TemplateName)
		}
		tmpl, err := e.Templates.Get(c.TemplateName)
		if err != nil {
			if errors.Is(err, appErrors.ErrNotFound) {
				return nil, appErrors.NewTemplateMissing(c.ID, err.Error())
			}
			return nil, err
		}
		steps = tmpl.Steps
	}
	if c.CurrentStepIndex < 0 || c.CurrentStepIndex >= len(steps) {
		return nil, appErrors.NewTemplateMissing(c.ID,
			fmt.Sprintf("step %d out of range for template %s with %d steps", c.CurrentStepIndex, c.TemplateName, len(steps)))
	}
	return steps, nil
}

// send calls the dispatcher, folding errors and panics into a failed result.
func (e *Engine) send(ctx context.Context, msg dispatch.Message) (res dispatch.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = dispatch.Result{Success: false, Detail: fmt.Sprintf("dispatcher panic: %v", r)}
		}
	}()
	res, err := e.Dispatcher.Send(ctx, msg)
	if err != nil {
		return dispatch.Result{Success: false, Detail: err.Error()}
	}
	if !res.Success && res.Detail == "" {
		res.Detail = "dispatcher reported failure"
	}
	return res
}

func (e *Engine) recordStatus(ctx context.Context, leadID, campaignID string, status model.CampaignStatus, now time.Time, log *zap.Logger, cnt *tickCounters) {
	unlock := e.LeadLocks.Lock(leadID)
	defer unlock()
	if err := e.Leads.RecordCampaignStatus(ctx, leadID, campaignID, status, now); err != nil {
		log.Error("record campaign status failed", zap.String("status", string(status)), zap.Error(err))
		cnt.errors.Add(1)
	}
}

// terminate marks an instance that can never progress as failed.
func (e *Engine) terminate(ctx context.Context, c *model.CampaignInstance, reason string, now time.Time, log *zap.Logger, cnt *tickCounters) {
	if err := e.Campaigns.Fail(ctx, c.ID, reason, now); err != nil {
		log.Error("mark campaign failed", zap.Error(err))
		cnt.errors.Add(1)
		return
	}
	log.Warn("campaign failed", zap.String("reason", reason))
	e.recordStatus(ctx, c.LeadID, c.ID, model.CampaignStatusFailed, now, log, cnt)
	cnt.failed.Add(1)
	e.emit(ctx, queue.EventCampaignFailed, c, map[string]any{"error": reason})
}

func (e *Engine) emit(ctx context.Context, typ string, c *model.CampaignInstance, extra map[string]any) {
	publish(ctx, e.Events, e.EventTopic, e.Log, typ, c, extra)
}

func publish(ctx context.Context, pub queue.Publisher, topic string, log *zap.Logger, typ string, c *model.CampaignInstance, extra map[string]any) {
	if pub == nil {
		return
	}
	payload := map[string]any{
		"campaign_id": c.ID,
		"lead_id":     c.LeadID,
		"template":    c.TemplateName,
		"status":      string(c.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := pub.Publish(ctx, topic, queue.Event{Type: typ, Payload: payload}); err != nil && log != nil {
		log.Warn("publish event failed", zap.String("event", typ), zap.Error(err))
	}
}
