// internal/model/campaign.go
package model

import (
	"fmt"
	"time"
)

type CampaignStatus string

// Campaign statuses
const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Valid state transitions: from -> []to
var ValidCampaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusActive:    {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusFailed},
	CampaignStatusPaused:    {CampaignStatusActive},
	CampaignStatusCompleted: {},
	CampaignStatusFailed:    {},
}

func IsValidTransition(from, to CampaignStatus) bool {
	allowed, ok := ValidCampaignTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

type StepOutcome string

const (
	OutcomeSuccess StepOutcome = "success"
	OutcomeFailure StepOutcome = "failure"
)

// StepRecord is one entry of an instance's execution log.
type StepRecord struct {
	StepIndex  int         `db:"step_index" json:"step_index"`
	ExecutedAt time.Time   `db:"executed_at" json:"executed_at"`
	Outcome    StepOutcome `db:"outcome" json:"outcome"`
	Detail     string      `db:"detail" json:"detail,omitempty"`
}

type CampaignInstance struct {
	ID               string         `db:"id" json:"id"`
	LeadID           string         `db:"lead_id" json:"lead_id"`
	TemplateName     string         `db:"template_name" json:"template"`
	TemplateVersion  string         `db:"template_version" json:"template_version,omitempty"`
	Steps            []Step         `db:"template_snapshot" json:"-"`
	Status           CampaignStatus `db:"status" json:"status"`
	CurrentStepIndex int            `db:"current_step_index" json:"current_step"`
	Attempts         int            `db:"attempts" json:"attempts"`
	NextActionAt     time.Time      `db:"next_action_at" json:"next_action_at"`
	CompletedSteps   []StepRecord   `json:"completed_steps"`
	StartedAt        time.Time      `db:"started_at" json:"started_at"`
	PausedAt         *time.Time     `db:"paused_at" json:"paused_at,omitempty"`
	ResumedAt        *time.Time     `db:"resumed_at" json:"resumed_at,omitempty"`
	CompletedAt      *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	Error            string         `db:"error" json:"error,omitempty"`
}

// CampaignID builds the id of the seq-th campaign started for a lead.
func CampaignID(leadID string, seq int) string {
	return fmt.Sprintf("campaign_%s_%d", leadID, seq)
}

// NewCampaignInstance starts a run of tmpl. The first step is due immediately.
func NewCampaignInstance(leadID string, seq int, tmpl *Template, now time.Time) *CampaignInstance {
	steps := make([]Step, len(tmpl.Steps))
	copy(steps, tmpl.Steps)
	return &CampaignInstance{
		ID:               CampaignID(leadID, seq),
		LeadID:           leadID,
		TemplateName:     tmpl.Name,
		TemplateVersion:  tmpl.Version,
		Steps:            steps,
		Status:           CampaignStatusActive,
		CurrentStepIndex: 0,
		NextActionAt:     now,
		CompletedSteps:   []StepRecord{},
		StartedAt:        now,
	}
}

// IsDue reports whether the instance should be processed at now.
func (c *CampaignInstance) IsDue(now time.Time) bool {
	return c.Status == CampaignStatusActive && !c.NextActionAt.After(now)
}

// Advance applies the outcome of executing the current step. On success the
// cursor moves forward and the next step is scheduled after its delay, or the
// instance completes. On failure the record is kept, the cursor stays put and
// the same step is retried after retryDelay.
func (c *CampaignInstance) Advance(rec StepRecord, steps []Step, now time.Time, retryDelay time.Duration) error {
	if c.Status != CampaignStatusActive {
		return fmt.Errorf("campaign %s is %s, not active", c.ID, c.Status)
	}
	if rec.StepIndex != c.CurrentStepIndex {
		return fmt.Errorf("campaign %s: record for step %d but cursor at %d", c.ID, rec.StepIndex, c.CurrentStepIndex)
	}

	c.CompletedSteps = append(c.CompletedSteps, rec)

	if rec.Outcome != OutcomeSuccess {
		c.Attempts++
		c.NextActionAt = now.Add(retryDelay)
		return nil
	}

	c.Attempts = 0
	c.CurrentStepIndex++
	if c.CurrentStepIndex >= len(steps) {
		c.Status = CampaignStatusCompleted
		c.CompletedAt = &now
		return nil
	}
	c.NextActionAt = now.Add(steps[c.CurrentStepIndex].Delay)
	return nil
}

// Fail moves the instance to the terminal failed state.
func (c *CampaignInstance) Fail(reason string, now time.Time) {
	c.Status = CampaignStatusFailed
	c.Error = reason
	c.CompletedAt = &now
}
