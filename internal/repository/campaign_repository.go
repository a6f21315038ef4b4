package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	appErrors "github.com/unclebandit/leadnurture/internal/errors"
	"github.com/unclebandit/leadnurture/internal/model"
)

// CampaignRepository is the Postgres campaign instance store.
type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, lead_id, template_name, template_version, template_snapshot, status,
        current_step_index, attempts, next_action_at, started_at, paused_at, resumed_at, completed_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.CampaignInstance, error) {
	var (
		c        model.CampaignInstance
		snapshot []byte
	)
	err := row.Scan(&c.ID, &c.LeadID, &c.TemplateName, &c.TemplateVersion, &snapshot, &c.Status,
		&c.CurrentStepIndex, &c.Attempts, &c.NextActionAt, &c.StartedAt, &c.PausedAt, &c.ResumedAt,
		&c.CompletedAt, &c.Error)
	if err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &c.Steps); err != nil {
			return nil, fmt.Errorf("decode template snapshot: %w", err)
		}
	}
	c.CompletedSteps = []model.StepRecord{}
	return &c, nil
}

// ====================== Instance CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.CampaignInstance) error {
	snapshot, err := json.Marshal(c.Steps)
	if err != nil {
		return fmt.Errorf("repository: encode template snapshot: %w", err)
	}
	query := `
        INSERT INTO campaign_instances (id, lead_id, template_name, template_version, template_snapshot, status,
            current_step_index, attempts, next_action_at, started_at, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '')
    `
	_, err = r.DB.ExecContext(ctx, query, c.ID, c.LeadID, c.TemplateName, c.TemplateVersion, snapshot,
		c.Status, c.CurrentStepIndex, c.Attempts, c.NextActionAt, c.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.NewDuplicateCampaign(c.ID)
		}
		return fmt.Errorf("repository: create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.CampaignInstance, error) {
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaign_instances WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("repository: get campaign: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
        SELECT step_index, executed_at, outcome, detail
        FROM campaign_step_log WHERE campaign_id=$1 ORDER BY id
    `, id)
	if err != nil {
		return nil, fmt.Errorf("repository: step log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.StepRecord
		if err := rows.Scan(&rec.StepIndex, &rec.ExecutedAt, &rec.Outcome, &rec.Detail); err != nil {
			return nil, fmt.Errorf("repository: scan step log: %w", err)
		}
		c.CompletedSteps = append(c.CompletedSteps, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: step log: %w", err)
	}
	return c, nil
}

func (r *CampaignRepository) ListByLead(ctx context.Context, leadID string) ([]*model.CampaignInstance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaign_instances WHERE lead_id=$1 ORDER BY started_at, id`, leadID)
	if err != nil {
		return nil, fmt.Errorf("repository: list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*model.CampaignInstance{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ====================== Scheduling ======================

func (r *CampaignRepository) DueInstances(ctx context.Context, now time.Time, batchSize int) iter.Seq2[*model.CampaignInstance, error] {
	if batchSize <= 0 {
		batchSize = 100
	}
	query := `SELECT ` + campaignColumns + `
        FROM campaign_instances
        WHERE status=$1 AND next_action_at <= $2 AND (next_action_at, id) > ($3::timestamptz, $4::text)
        ORDER BY next_action_at, id
        LIMIT $5`

	return func(yield func(*model.CampaignInstance, error) bool) {
		var (
			cursorAt time.Time
			cursorID string
		)
		for {
			page, err := r.duePage(ctx, query, now, cursorAt, cursorID, batchSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, c := range page {
				if !yield(c, nil) {
					return
				}
			}
			if len(page) < batchSize {
				return
			}
			last := page[len(page)-1]
			cursorAt, cursorID = last.NextActionAt, last.ID
		}
	}
}

func (r *CampaignRepository) duePage(ctx context.Context, query string, now, cursorAt time.Time, cursorID string, limit int) ([]*model.CampaignInstance, error) {
	rows, err := r.DB.QueryContext(ctx, query, model.CampaignStatusActive, now, cursorAt, cursorID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: due instances: %w", err)
	}
	defer rows.Close()

	page := make([]*model.CampaignInstance, 0, limit)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan due instance: %w", err)
		}
		page = append(page, c)
	}
	return page, rows.Err()
}

func (r *CampaignRepository) SaveProgress(ctx context.Context, c *model.CampaignInstance, expectedStep int, rec *model.StepRecord, lead *model.LeadUpdate) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("repository: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE campaign_instances
        SET status=$1, current_step_index=$2, attempts=$3, next_action_at=$4, completed_at=$5, error=$6, updated_at=NOW()
        WHERE id=$7 AND status=$8 AND current_step_index=$9
    `, c.Status, c.CurrentStepIndex, c.Attempts, c.NextActionAt, c.CompletedAt, c.Error,
		c.ID, model.CampaignStatusActive, expectedStep)
	if err != nil {
		return false, fmt.Errorf("repository: save progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if rec != nil {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO campaign_step_log (campaign_id, step_index, executed_at, outcome, detail)
            VALUES ($1, $2, $3, $4, $5)
        `, c.ID, rec.StepIndex, rec.ExecutedAt, rec.Outcome, rec.Detail)
		if err != nil {
			return false, fmt.Errorf("repository: append step log: %w", err)
		}
	}

	if lead != nil {
		if err := applyLeadUpdate(ctx, tx, c.LeadID, c.ID, lead); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("repository: commit progress: %w", err)
	}
	return true, nil
}

func applyLeadUpdate(ctx context.Context, tx *sql.Tx, leadID, campaignID string, u *model.LeadUpdate) error {
	res, err := tx.ExecContext(ctx, `
        UPDATE leads
        SET engagement_score=engagement_score+$1,
            last_contact_at=COALESCE($2, last_contact_at),
            status=CASE WHEN $2::timestamptz IS NOT NULL AND status=$3 THEN $4 ELSE status END
        WHERE id=$5
    `, u.Engagement, u.ContactAt, model.LeadStatusNew, model.LeadStatusActive, leadID)
	if err != nil {
		return fmt.Errorf("repository: update lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewLeadNotFound(leadID)
	}

	if u.HistoryStatus == "" {
		return nil
	}
	var completedAt *time.Time
	if u.HistoryStatus.Terminal() {
		completedAt = &u.At
	}
	_, err = tx.ExecContext(ctx, `
        UPDATE lead_campaigns SET status=$1, completed_at=COALESCE($2, completed_at)
        WHERE lead_id=$3 AND campaign_id=$4
    `, u.HistoryStatus, completedAt, leadID, campaignID)
	if err != nil {
		return fmt.Errorf("repository: update lead history: %w", err)
	}
	return nil
}

// ====================== Control ======================

func (r *CampaignRepository) Pause(ctx context.Context, id string, at time.Time) (*model.CampaignInstance, error) {
	return r.transition(ctx, id, model.CampaignStatusActive, model.CampaignStatusPaused,
		`UPDATE campaign_instances SET status=$1, paused_at=$2, updated_at=NOW() WHERE id=$3 AND status=$4`, at)
}

// Resume reactivates a paused instance. next_action_at is left as it was, so
// an instance whose step came due while paused runs on the next tick.
func (r *CampaignRepository) Resume(ctx context.Context, id string, at time.Time) (*model.CampaignInstance, error) {
	return r.transition(ctx, id, model.CampaignStatusPaused, model.CampaignStatusActive,
		`UPDATE campaign_instances SET status=$1, resumed_at=$2, updated_at=NOW() WHERE id=$3 AND status=$4`, at)
}

func (r *CampaignRepository) transition(ctx context.Context, id string, from, to model.CampaignStatus, query string, at time.Time) (*model.CampaignInstance, error) {
	res, err := r.DB.ExecContext(ctx, query, to, at, id, from)
	if err != nil {
		return nil, fmt.Errorf("repository: %s campaign: %w", to, err)
	}
	n, _ := res.RowsAffected()

	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, appErrors.NewStateTransition(id, string(c.Status), string(to))
	}
	return c, nil
}

func (r *CampaignRepository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_instances SET status=$1, error=$2, completed_at=$3, updated_at=NOW()
        WHERE id=$4 AND status IN ($5, $6)
    `, model.CampaignStatusFailed, reason, at, id, model.CampaignStatusActive, model.CampaignStatusPaused)
	if err != nil {
		return fmt.Errorf("repository: fail campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return appErrors.NewStateTransition(id, string(c.Status), string(model.CampaignStatusFailed))
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
