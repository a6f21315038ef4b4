// internal/model/lead.go
package model

import "time"

type LeadStatus string

const (
	LeadStatusNew      LeadStatus = "new"
	LeadStatusActive   LeadStatus = "active"
	LeadStatusInactive LeadStatus = "inactive"
)

type Lead struct {
	ID              string                 `db:"id" json:"id"`
	Email           string                 `db:"email" json:"email"`
	Phone           string                 `db:"phone" json:"phone"`
	Name            string                 `db:"name" json:"name"`
	Source          string                 `db:"source" json:"source"`
	Status          LeadStatus             `db:"status" json:"status"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	LastContactAt   *time.Time             `db:"last_contact_at" json:"last_contact_at,omitempty"`
	EngagementScore int                    `db:"engagement_score" json:"engagement_score"`
	CampaignHistory []CampaignHistoryEntry `json:"campaign_history"`
}

type CampaignHistoryEntry struct {
	CampaignID   string         `db:"campaign_id" json:"campaign_id"`
	TemplateName string         `db:"template_name" json:"template"`
	Status       CampaignStatus `db:"status" json:"status"`
	StartedAt    time.Time      `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// LeadUpdate is the change a campaign step makes to its lead. It is written
// together with the step's progress.
type LeadUpdate struct {
	Engagement    int
	ContactAt     *time.Time
	HistoryStatus CampaignStatus // empty leaves the history entry alone
	At            time.Time
}

// Apply changes l in place. A missing history entry is ignored.
func (u *LeadUpdate) Apply(l *Lead, campaignID string) {
	l.EngagementScore += u.Engagement
	if u.ContactAt != nil {
		at := *u.ContactAt
		l.LastContactAt = &at
		if l.Status == LeadStatusNew {
			l.Status = LeadStatusActive
		}
	}
	if u.HistoryStatus == "" {
		return
	}
	for i := range l.CampaignHistory {
		h := &l.CampaignHistory[i]
		if h.CampaignID != campaignID {
			continue
		}
		h.Status = u.HistoryStatus
		if u.HistoryStatus.Terminal() {
			at := u.At
			h.CompletedAt = &at
		}
		return
	}
}

// ActiveCampaigns returns the history entries that are still running.
func (l *Lead) ActiveCampaigns() []CampaignHistoryEntry {
	active := []CampaignHistoryEntry{}
	for _, h := range l.CampaignHistory {
		if h.Status == CampaignStatusActive {
			active = append(active, h)
		}
	}
	return active
}

// Data exposes the lead fields that message templates may interpolate.
func (l *Lead) Data() map[string]string {
	return map[string]string{
		"name":   l.Name,
		"email":  l.Email,
		"phone":  l.Phone,
		"source": l.Source,
	}
}

// Recipient returns the address used for the given channel.
func (l *Lead) Recipient(ch Channel) string {
	if ch == ChannelSMS {
		return l.Phone
	}
	return l.Email
}
