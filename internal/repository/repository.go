package repository

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/leadnurture/internal/model"
)

// LeadRepositoryInterface is the lead registry. Every mutation is scoped to a
// single lead and applied atomically.
type LeadRepositoryInterface interface {
	Register(ctx context.Context, l *model.Lead) error
	GetByID(ctx context.Context, id string) (*model.Lead, error)
	RecordCampaignStart(ctx context.Context, leadID, campaignID, templateName string, at time.Time) error
	RecordCampaignStatus(ctx context.Context, leadID, campaignID string, status model.CampaignStatus, at time.Time) error
	RecordContact(ctx context.Context, leadID string, at time.Time) error
	IncrementEngagement(ctx context.Context, leadID string) error
}

// CampaignRepositoryInterface is the campaign instance store.
type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.CampaignInstance) error
	GetByID(ctx context.Context, id string) (*model.CampaignInstance, error)
	ListByLead(ctx context.Context, leadID string) ([]*model.CampaignInstance, error)

	// DueInstances lazily yields active instances with next_action_at <= now
	// in (next_action_at, id) order, fetching batchSize rows at a time.
	// Instances yielded here carry no step log.
	DueInstances(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*model.CampaignInstance, error]

	// SaveProgress persists c, appends rec and applies lead (when non-nil) to
	// c's lead in one write, only if the stored instance is still active at
	// expectedStep. It reports whether the write applied.
	SaveProgress(ctx context.Context, c *model.CampaignInstance, expectedStep int, rec *model.StepRecord, lead *model.LeadUpdate) (bool, error)

	Pause(ctx context.Context, id string, at time.Time) (*model.CampaignInstance, error)
	Resume(ctx context.Context, id string, at time.Time) (*model.CampaignInstance, error)
	Fail(ctx context.Context, id, reason string, at time.Time) error
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
