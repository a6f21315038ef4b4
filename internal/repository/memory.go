package repository

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/leadnurture/internal/errors"
	"github.com/unclebandit/leadnurture/internal/model"
)

// MemoryLeadRepository keeps leads in process memory. Used by tests and
// STORE_DRIVER=memory; state does not survive a restart.
type MemoryLeadRepository struct {
	mu    sync.Mutex
	leads map[string]*model.Lead
}

func NewMemoryLeadRepository() *MemoryLeadRepository {
	return &MemoryLeadRepository{leads: map[string]*model.Lead{}}
}

func copyLead(l *model.Lead) *model.Lead {
	cp := *l
	cp.CampaignHistory = make([]model.CampaignHistoryEntry, len(l.CampaignHistory))
	copy(cp.CampaignHistory, l.CampaignHistory)
	return &cp
}

func (r *MemoryLeadRepository) Register(ctx context.Context, l *model.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leads[l.ID]; ok {
		return appErrors.NewDuplicateLead(l.ID)
	}
	if l.Status == "" {
		l.Status = model.LeadStatusNew
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.CampaignHistory == nil {
		l.CampaignHistory = []model.CampaignHistoryEntry{}
	}
	r.leads[l.ID] = copyLead(l)
	return nil
}

func (r *MemoryLeadRepository) GetByID(ctx context.Context, id string) (*model.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, appErrors.NewLeadNotFound(id)
	}
	return copyLead(l), nil
}

func (r *MemoryLeadRepository) RecordCampaignStart(ctx context.Context, leadID, campaignID, templateName string, at time.Time) error {
	return r.update(leadID, func(l *model.Lead) error {
		l.CampaignHistory = append(l.CampaignHistory, model.CampaignHistoryEntry{
			CampaignID:   campaignID,
			TemplateName: templateName,
			Status:       model.CampaignStatusActive,
			StartedAt:    at,
		})
		return nil
	})
}

func (r *MemoryLeadRepository) RecordCampaignStatus(ctx context.Context, leadID, campaignID string, status model.CampaignStatus, at time.Time) error {
	return r.update(leadID, func(l *model.Lead) error {
		for _, h := range l.CampaignHistory {
			if h.CampaignID == campaignID {
				(&model.LeadUpdate{HistoryStatus: status, At: at}).Apply(l, campaignID)
				return nil
			}
		}
		return appErrors.NewCampaignNotFound(campaignID)
	})
}

func (r *MemoryLeadRepository) RecordContact(ctx context.Context, leadID string, at time.Time) error {
	return r.update(leadID, func(l *model.Lead) error {
		(&model.LeadUpdate{ContactAt: &at}).Apply(l, "")
		return nil
	})
}

func (r *MemoryLeadRepository) IncrementEngagement(ctx context.Context, leadID string) error {
	return r.update(leadID, func(l *model.Lead) error {
		l.EngagementScore++
		return nil
	})
}

func (r *MemoryLeadRepository) update(id string, fn func(*model.Lead) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return appErrors.NewLeadNotFound(id)
	}
	return fn(l)
}

// MemoryCampaignRepository keeps campaign instances in process memory.
// Lead updates passed to SaveProgress are applied to leads under the same
// lock as the progress; leads may be nil when no caller passes any.
type MemoryCampaignRepository struct {
	mu        sync.Mutex
	campaigns map[string]*model.CampaignInstance
	leads     *MemoryLeadRepository
}

func NewMemoryCampaignRepository(leads *MemoryLeadRepository) *MemoryCampaignRepository {
	return &MemoryCampaignRepository{campaigns: map[string]*model.CampaignInstance{}, leads: leads}
}

func copyCampaign(c *model.CampaignInstance, withLog bool) *model.CampaignInstance {
	cp := *c
	cp.Steps = make([]model.Step, len(c.Steps))
	copy(cp.Steps, c.Steps)
	cp.CompletedSteps = []model.StepRecord{}
	if withLog {
		cp.CompletedSteps = append(cp.CompletedSteps, c.CompletedSteps...)
	}
	return &cp
}

func (r *MemoryCampaignRepository) Create(ctx context.Context, c *model.CampaignInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[c.ID]; ok {
		return appErrors.NewDuplicateCampaign(c.ID)
	}
	r.campaigns[c.ID] = copyCampaign(c, true)
	return nil
}

func (r *MemoryCampaignRepository) GetByID(ctx context.Context, id string) (*model.CampaignInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return copyCampaign(c, true), nil
}

func (r *MemoryCampaignRepository) ListByLead(ctx context.Context, leadID string) ([]*model.CampaignInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.CampaignInstance{}
	for _, c := range r.campaigns {
		if c.LeadID == leadID {
			out = append(out, copyCampaign(c, false))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *MemoryCampaignRepository) DueInstances(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*model.CampaignInstance, error] {
	return func(yield func(*model.CampaignInstance, error) bool) {
		r.mu.Lock()
		due := []*model.CampaignInstance{}
		for _, c := range r.campaigns {
			if c.IsDue(now) {
				due = append(due, copyCampaign(c, false))
			}
		}
		r.mu.Unlock()

		sort.Slice(due, func(i, j int) bool {
			if due[i].NextActionAt.Equal(due[j].NextActionAt) {
				return due[i].ID < due[j].ID
			}
			return due[i].NextActionAt.Before(due[j].NextActionAt)
		})
		for _, c := range due {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (r *MemoryCampaignRepository) SaveProgress(ctx context.Context, c *model.CampaignInstance, expectedStep int, rec *model.StepRecord, lead *model.LeadUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.campaigns[c.ID]
	if !ok {
		return false, appErrors.NewCampaignNotFound(c.ID)
	}
	if stored.Status != model.CampaignStatusActive || stored.CurrentStepIndex != expectedStep {
		return false, nil
	}

	if lead != nil {
		if r.leads == nil {
			return false, fmt.Errorf("repository: no lead store for campaign %s", c.ID)
		}
		r.leads.mu.Lock()
		defer r.leads.mu.Unlock()
		l, ok := r.leads.leads[c.LeadID]
		if !ok {
			return false, appErrors.NewLeadNotFound(c.LeadID)
		}
		lead.Apply(l, c.ID)
	}

	stored.Status = c.Status
	stored.CurrentStepIndex = c.CurrentStepIndex
	stored.Attempts = c.Attempts
	stored.NextActionAt = c.NextActionAt
	stored.CompletedAt = c.CompletedAt
	stored.Error = c.Error
	if rec != nil {
		stored.CompletedSteps = append(stored.CompletedSteps, *rec)
	}
	return true, nil
}

func (r *MemoryCampaignRepository) Pause(ctx context.Context, id string, at time.Time) (*model.CampaignInstance, error) {
	return r.transition(id, model.CampaignStatusActive, model.CampaignStatusPaused, func(c *model.CampaignInstance) {
		c.PausedAt = &at
	})
}

func (r *MemoryCampaignRepository) Resume(ctx context.Context, id string, at time.Time) (*model.CampaignInstance, error) {
	return r.transition(id, model.CampaignStatusPaused, model.CampaignStatusActive, func(c *model.CampaignInstance) {
		c.ResumedAt = &at
	})
}

func (r *MemoryCampaignRepository) transition(id string, from, to model.CampaignStatus, stamp func(*model.CampaignInstance)) (*model.CampaignInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if c.Status != from {
		return nil, appErrors.NewStateTransition(id, string(c.Status), string(to))
	}
	c.Status = to
	stamp(c)
	return copyCampaign(c, true), nil
}

func (r *MemoryCampaignRepository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if !model.IsValidTransition(c.Status, model.CampaignStatusFailed) && c.Status != model.CampaignStatusPaused {
		return appErrors.NewStateTransition(id, string(c.Status), string(model.CampaignStatusFailed))
	}
	c.Fail(reason, at)
	return nil
}

var (
	_ LeadRepositoryInterface     = (*MemoryLeadRepository)(nil)
	_ CampaignRepositoryInterface = (*MemoryCampaignRepository)(nil)
)
