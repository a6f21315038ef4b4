// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/leadnurture/internal/errors"
	"github.com/unclebandit/leadnurture/internal/lock"
	"github.com/unclebandit/leadnurture/internal/model"
	"github.com/unclebandit/leadnurture/internal/queue"
	"github.com/unclebandit/leadnurture/internal/repository"
)

// leadNamespace derives stable lead ids from contact addresses.
var leadNamespace = uuid.MustParse("6f1c3a0e-5b8d-4c2a-9e47-2d1f0b7c9a11")

// TemplateCatalog is the template store as seen by the control API.
type TemplateCatalog interface {
	TemplateSource
	List() []*model.Template
	Reload() error
}

// CampaignService is the control API: it starts, inspects, pauses and
// resumes campaigns. Step execution belongs to Engine.
type CampaignService struct {
	LeadRepo        repository.LeadRepositoryInterface
	CampaignRepo    repository.CampaignRepositoryInterface
	Templates       TemplateCatalog
	WelcomeTemplate string
	LeadLocks       *lock.KeyedMutex
	Events          queue.Publisher
	EventTopic      string
	Clock           func() time.Time
	Log             *zap.Logger
}

type LeadInput struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Source   string `json:"source"`
	Template string `json:"template,omitempty"`

	// ReuseExisting starts the campaign for an already registered lead
	// instead of failing with a duplicate error.
	ReuseExisting bool `json:"reuse_existing,omitempty"`
}

type StartResult struct {
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id"`
}

type LeadStatus struct {
	*model.Lead
	ActiveCampaigns []model.CampaignHistoryEntry `json:"active_campaigns"`
}

type CampaignStatus struct {
	*model.CampaignInstance
	TotalSteps int `json:"total_steps"`
}

func (s *CampaignService) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *CampaignService) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *CampaignService) lockLead(id string) func() {
	if s.LeadLocks == nil {
		return func() {}
	}
	return s.LeadLocks.Lock(id)
}

// DeriveLeadID returns a stable id for a lead without one, based on its
// email or, failing that, its phone number.
func DeriveLeadID(email, phone string) string {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		key = strings.TrimSpace(phone)
	}
	if key == "" {
		return ""
	}
	return uuid.NewSHA1(leadNamespace, []byte(key)).String()
}

// StartCampaign registers a lead and starts its first campaign, the
// welcome template unless the input names another.
func (s *CampaignService) StartCampaign(ctx context.Context, in LeadInput) (*StartResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	leadID := strings.TrimSpace(in.ID)
	if leadID == "" {
		leadID = DeriveLeadID(in.Email, in.Phone)
	}
	if leadID == "" {
		return nil, appErrors.NewValidation("lead", "id, email or phone is required")
	}

	name := in.Template
	if name == "" {
		name = s.WelcomeTemplate
	}
	tmpl, err := s.Templates.Get(name)
	if err != nil {
		return nil, err
	}

	lead := &model.Lead{
		ID:        leadID,
		Email:     in.Email,
		Phone:     in.Phone,
		Name:      in.Name,
		Source:    in.Source,
		Status:    model.LeadStatusNew,
		CreatedAt: s.now(),
	}
	if err := s.LeadRepo.Register(ctx, lead); err != nil {
		if !errors.Is(err, appErrors.ErrDuplicateLead) || !in.ReuseExisting {
			return nil, err
		}
		s.logger().Info("reusing existing lead", zap.String("lead_id", leadID))
	}

	return s.start(ctx, leadID, tmpl)
}

// StartCampaignForLead starts another campaign, e.g. re_engagement, for a
// registered lead.
func (s *CampaignService) StartCampaignForLead(ctx context.Context, leadID, templateName string) (*StartResult, error) {
	if templateName == "" {
		return nil, appErrors.NewValidation("template", "template name is required")
	}
	tmpl, err := s.Templates.Get(templateName)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, leadID, tmpl)
}

func (s *CampaignService) start(ctx context.Context, leadID string, tmpl *model.Template) (*StartResult, error) {
	unlock := s.lockLead(leadID)
	defer unlock()

	lead, err := s.LeadRepo.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}

	// Instances outlive a failed history write, so count both.
	existing, err := s.CampaignRepo.ListByLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	seq := max(len(lead.CampaignHistory), len(existing)) + 1

	now := s.now()
	c := model.NewCampaignInstance(leadID, seq, tmpl, now)
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	if err := s.LeadRepo.RecordCampaignStart(ctx, leadID, c.ID, tmpl.Name, now); err != nil {
		// Never dispatch an instance the lead does not know about.
		if ferr := s.CampaignRepo.Fail(ctx, c.ID, "lead history not recorded: "+err.Error(), now); ferr != nil {
			s.logger().Error("❌ orphaned campaign left active",
				zap.String("campaign_id", c.ID), zap.Error(ferr))
		}
		return nil, err
	}

	s.logger().Info("🚀 campaign started",
		zap.String("lead_id", leadID),
		zap.String("campaign_id", c.ID),
		zap.String("template", tmpl.Name),
		zap.String("template_version", tmpl.Version))
	publish(ctx, s.Events, s.EventTopic, s.Log, queue.EventCampaignStarted, c, map[string]any{"template_version": tmpl.Version})

	return &StartResult{LeadID: leadID, CampaignID: c.ID}, nil
}

func (s *CampaignService) GetLeadStatus(ctx context.Context, leadID string) (*LeadStatus, error) {
	lead, err := s.LeadRepo.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return &LeadStatus{Lead: lead, ActiveCampaigns: lead.ActiveCampaigns()}, nil
}

func (s *CampaignService) GetCampaignStatus(ctx context.Context, campaignID string) (*CampaignStatus, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	total := len(c.Steps)
	if total == 0 && s.Templates != nil {
		if tmpl, err := s.Templates.Get(c.TemplateName); err == nil {
			total = len(tmpl.Steps)
		}
	}
	return &CampaignStatus{CampaignInstance: c, TotalSteps: total}, nil
}

// PauseCampaign stops an active campaign. A step already being dispatched
// may still go out, but its progress is discarded.
func (s *CampaignService) PauseCampaign(ctx context.Context, campaignID string) (*model.CampaignInstance, error) {
	c, err := s.CampaignRepo.Pause(ctx, campaignID, s.now())
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, c, queue.EventCampaignPaused)
	return c, nil
}

// ResumeCampaign reactivates a paused campaign. If its next step came due
// while paused it runs on the next tick.
func (s *CampaignService) ResumeCampaign(ctx context.Context, campaignID string) (*model.CampaignInstance, error) {
	c, err := s.CampaignRepo.Resume(ctx, campaignID, s.now())
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, c, queue.EventCampaignResumed)
	return c, nil
}

func (s *CampaignService) afterTransition(ctx context.Context, c *model.CampaignInstance, event string) {
	unlock := s.lockLead(c.LeadID)
	err := s.LeadRepo.RecordCampaignStatus(ctx, c.LeadID, c.ID, c.Status, s.now())
	unlock()
	if err != nil {
		s.logger().Warn("lead history not updated",
			zap.String("campaign_id", c.ID), zap.String("status", string(c.Status)), zap.Error(err))
	}
	s.logger().Info("campaign "+string(c.Status), zap.String("campaign_id", c.ID), zap.String("lead_id", c.LeadID))
	publish(ctx, s.Events, s.EventTopic, s.Log, event, c, nil)
}

func (s *CampaignService) ListTemplates() []*model.Template {
	return s.Templates.List()
}

// ReloadTemplates re-reads the template document. Running campaigns keep
// the steps they started with.
func (s *CampaignService) ReloadTemplates() error {
	if err := s.Templates.Reload(); err != nil {
		return err
	}
	s.logger().Info("templates reloaded", zap.Int("count", len(s.Templates.List())))
	return nil
}
