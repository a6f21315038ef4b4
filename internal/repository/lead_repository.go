package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/leadnurture/internal/errors"
	"github.com/unclebandit/leadnurture/internal/model"
)

// LeadRepository is the Postgres lead registry
type LeadRepository struct {
	DB *sql.DB
}

func (r *LeadRepository) Register(ctx context.Context, l *model.Lead) error {
	if l.Status == "" {
		l.Status = model.LeadStatusNew
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO leads (id, email, phone, name, source, status, engagement_score, created_at, last_contact_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.ExecContext(ctx, query, l.ID, l.Email, l.Phone, l.Name, l.Source, l.Status,
		l.EngagementScore, l.CreatedAt, l.LastContactAt)
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.NewDuplicateLead(l.ID)
		}
		return fmt.Errorf("repository: register lead: %w", err)
	}
	if l.CampaignHistory == nil {
		l.CampaignHistory = []model.CampaignHistoryEntry{}
	}
	return nil
}

func (r *LeadRepository) GetByID(ctx context.Context, id string) (*model.Lead, error) {
	query := `
        SELECT id, email, phone, name, source, status, engagement_score, created_at, last_contact_at
        FROM leads WHERE id=$1
    `
	var l model.Lead
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.Email, &l.Phone, &l.Name, &l.Source,
		&l.Status, &l.EngagementScore, &l.CreatedAt, &l.LastContactAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewLeadNotFound(id)
		}
		return nil, fmt.Errorf("repository: get lead: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
        SELECT campaign_id, template_name, status, started_at, completed_at
        FROM lead_campaigns WHERE lead_id=$1 ORDER BY seq
    `, id)
	if err != nil {
		return nil, fmt.Errorf("repository: lead history: %w", err)
	}
	defer rows.Close()

	l.CampaignHistory = []model.CampaignHistoryEntry{}
	for rows.Next() {
		var h model.CampaignHistoryEntry
		if err := rows.Scan(&h.CampaignID, &h.TemplateName, &h.Status, &h.StartedAt, &h.CompletedAt); err != nil {
			return nil, fmt.Errorf("repository: scan lead history: %w", err)
		}
		l.CampaignHistory = append(l.CampaignHistory, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: lead history: %w", err)
	}
	return &l, nil
}

func (r *LeadRepository) RecordCampaignStart(ctx context.Context, leadID, campaignID, templateName string, at time.Time) error {
	query := `
        INSERT INTO lead_campaigns (lead_id, campaign_id, seq, template_name, status, started_at)
        SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5 FROM lead_campaigns WHERE lead_id=$1
    `
	if _, err := r.DB.ExecContext(ctx, query, leadID, campaignID, templateName, model.CampaignStatusActive, at); err != nil {
		return fmt.Errorf("repository: record campaign start: %w", err)
	}
	return nil
}

// RecordCampaignStatus mirrors an instance status into the lead's history.
// Terminal statuses also stamp completed_at.
func (r *LeadRepository) RecordCampaignStatus(ctx context.Context, leadID, campaignID string, status model.CampaignStatus, at time.Time) error {
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &at
	}
	query := `
        UPDATE lead_campaigns SET status=$1, completed_at=COALESCE($2, completed_at)
        WHERE lead_id=$3 AND campaign_id=$4
    `
	res, err := r.DB.ExecContext(ctx, query, status, completedAt, leadID, campaignID)
	if err != nil {
		return fmt.Errorf("repository: record campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

func (r *LeadRepository) RecordContact(ctx context.Context, leadID string, at time.Time) error {
	query := `
        UPDATE leads
        SET last_contact_at=$1,
            status=CASE WHEN status=$2 THEN $3 ELSE status END
        WHERE id=$4
    `
	return r.execOne(ctx, leadID, "record contact", query, at, model.LeadStatusNew, model.LeadStatusActive, leadID)
}

func (r *LeadRepository) IncrementEngagement(ctx context.Context, leadID string) error {
	return r.execOne(ctx, leadID, "increment engagement",
		`UPDATE leads SET engagement_score=engagement_score+1 WHERE id=$1`, leadID)
}

func (r *LeadRepository) execOne(ctx context.Context, leadID, op, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("repository: %s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewLeadNotFound(leadID)
	}
	return nil
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
