package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/unclebandit/leadnurture/internal/errors"
	"github.com/unclebandit/leadnurture/internal/model"
	"github.com/unclebandit/leadnurture/internal/repository"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func twoStepTemplate() *model.Template {
	steps := []model.Step{
		{Delay: 0, Channel: model.ChannelEmail, TemplateID: "a", Content: "Hi {name}"},
		{Delay: time.Hour, Channel: model.ChannelSMS, TemplateID: "b", Content: "Still there?"},
	}
	return &model.Template{Name: "two_step", Version: model.Fingerprint(steps), Steps: steps}
}

func TestMemoryLeadRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryLeadRepository()

	if err := repo.Register(ctx, &model.Lead{ID: "l1", Email: "a@example.com"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := repo.Register(ctx, &model.Lead{ID: "l1"})
	if !errors.Is(err, appErrors.ErrDuplicateLead) {
		t.Fatalf("expected duplicate lead, got %v", err)
	}

	l, err := repo.GetByID(ctx, "l1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if l.Status != model.LeadStatusNew {
		t.Errorf("expected new status, got %s", l.Status)
	}

	if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, appErrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMemoryLeadHistoryAndContact(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryLeadRepository()
	_ = repo.Register(ctx, &model.Lead{ID: "l1"})

	if err := repo.RecordCampaignStart(ctx, "l1", "campaign_l1_1", "welcome_series", t0); err != nil {
		t.Fatalf("RecordCampaignStart: %v", err)
	}
	if err := repo.RecordContact(ctx, "l1", t0); err != nil {
		t.Fatalf("RecordContact: %v", err)
	}
	_ = repo.IncrementEngagement(ctx, "l1")
	_ = repo.IncrementEngagement(ctx, "l1")
	if err := repo.RecordCampaignStatus(ctx, "l1", "campaign_l1_1", model.CampaignStatusCompleted, t0.Add(time.Hour)); err != nil {
		t.Fatalf("RecordCampaignStatus: %v", err)
	}

	l, _ := repo.GetByID(ctx, "l1")
	if l.Status != model.LeadStatusActive {
		t.Errorf("contact should promote lead to active, got %s", l.Status)
	}
	if l.EngagementScore != 2 {
		t.Errorf("expected engagement 2, got %d", l.EngagementScore)
	}
	if len(l.CampaignHistory) != 1 || l.CampaignHistory[0].CompletedAt == nil {
		t.Fatalf("unexpected history: %+v", l.CampaignHistory)
	}
	if len(l.ActiveCampaigns()) != 0 {
		t.Errorf("completed campaign reported as active")
	}

	if err := repo.RecordCampaignStatus(ctx, "l1", "campaign_l1_9", model.CampaignStatusPaused, t0); !errors.Is(err, appErrors.ErrNotFound) {
		t.Errorf("expected not found for unknown history entry, got %v", err)
	}

	// Mutating the returned copy must not leak into the store.
	l.CampaignHistory[0].Status = model.CampaignStatusFailed
	again, _ := repo.GetByID(ctx, "l1")
	if again.CampaignHistory[0].Status != model.CampaignStatusCompleted {
		t.Errorf("store aliased returned lead")
	}
}

func TestMemoryCampaignDueOrdering(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository(nil)
	tmpl := twoStepTemplate()

	c1 := model.NewCampaignInstance("b", 1, tmpl, t0.Add(2*time.Minute))
	c2 := model.NewCampaignInstance("a", 1, tmpl, t0.Add(time.Minute))
	c3 := model.NewCampaignInstance("c", 1, tmpl, t0.Add(time.Minute))
	future := model.NewCampaignInstance("d", 1, tmpl, t0.Add(time.Hour))
	for _, c := range []*model.CampaignInstance{c1, c2, c3, future} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := repo.Pause(ctx, c3.ID, t0); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	var got []string
	for c, err := range repo.DueInstances(ctx, t0.Add(5*time.Minute), 1) {
		if err != nil {
			t.Fatalf("DueInstances: %v", err)
		}
		got = append(got, c.ID)
	}
	want := []string{c2.ID, c1.ID}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("due order = %v, want %v", got, want)
	}
}

func TestMemoryCampaignSaveProgressIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository(nil)
	c := model.NewCampaignInstance("l1", 1, twoStepTemplate(), t0)
	_ = repo.Create(ctx, c)

	working, _ := repo.GetByID(ctx, c.ID)
	rec := model.StepRecord{StepIndex: 0, ExecutedAt: t0, Outcome: model.OutcomeSuccess}
	if err := working.Advance(rec, working.Steps, t0, time.Minute); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	// Paused while the step was in flight.
	if _, err := repo.Pause(ctx, c.ID, t0); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	applied, err := repo.SaveProgress(ctx, working, 0, &rec, nil)
	if err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if applied {
		t.Fatalf("progress applied to a paused instance")
	}

	stored, _ := repo.GetByID(ctx, c.ID)
	if stored.Status != model.CampaignStatusPaused || stored.CurrentStepIndex != 0 || len(stored.CompletedSteps) != 0 {
		t.Errorf("paused instance changed: %+v", stored)
	}

	if _, err := repo.Resume(ctx, c.ID, t0); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	applied, err = repo.SaveProgress(ctx, working, 0, &rec, nil)
	if err != nil || !applied {
		t.Fatalf("expected progress to apply after resume: %v %v", applied, err)
	}
	stored, _ = repo.GetByID(ctx, c.ID)
	if stored.CurrentStepIndex != 1 || len(stored.CompletedSteps) != 1 {
		t.Errorf("unexpected stored state: %+v", stored)
	}
	if !stored.NextActionAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("next action = %v", stored.NextActionAt)
	}
}

func TestMemoryCampaignPauseResumeErrors(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository(nil)
	c := model.NewCampaignInstance("l1", 1, twoStepTemplate(), t0)
	_ = repo.Create(ctx, c)

	if _, err := repo.Resume(ctx, c.ID, t0); !errors.Is(err, appErrors.ErrInvalidStateTransition) {
		t.Errorf("resume of active: expected invalid transition, got %v", err)
	}
	if _, err := repo.Pause(ctx, "missing", t0); !errors.Is(err, appErrors.ErrNotFound) {
		t.Errorf("pause of unknown: expected not found, got %v", err)
	}
	if _, err := repo.Pause(ctx, c.ID, t0); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := repo.Pause(ctx, c.ID, t0); !errors.Is(err, appErrors.ErrInvalidStateTransition) {
		t.Errorf("double pause: expected invalid transition, got %v", err)
	}

	if err := repo.Fail(ctx, c.ID, "template gone", t0); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if _, err := repo.Resume(ctx, c.ID, t0); !errors.Is(err, appErrors.ErrInvalidStateTransition) {
		t.Errorf("resume of failed: expected invalid transition, got %v", err)
	}
	if err := repo.Fail(ctx, c.ID, "again", t0); !errors.Is(err, appErrors.ErrInvalidStateTransition) {
		t.Errorf("fail of failed: expected invalid transition, got %v", err)
	}
}

func TestMemoryCampaignCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCampaignRepository(nil)
	c := model.NewCampaignInstance("l1", 1, twoStepTemplate(), t0)
	_ = repo.Create(ctx, c)

	err := repo.Create(ctx, c)
	if !errors.Is(err, appErrors.ErrDuplicateCampaign) {
		t.Fatalf("expected duplicate campaign, got %v", err)
	}
	if errors.Is(err, appErrors.ErrInvalidStateTransition) {
		t.Errorf("duplicate reported as a state transition: %v", err)
	}
}

func TestMemorySaveProgressAppliesLeadUpdate(t *testing.T) {
	ctx := context.Background()
	leads := repository.NewMemoryLeadRepository()
	repo := repository.NewMemoryCampaignRepository(leads)
	_ = leads.Register(ctx, &model.Lead{ID: "l1"})

	c := model.NewCampaignInstance("l1", 1, twoStepTemplate(), t0)
	_ = repo.Create(ctx, c)
	_ = leads.RecordCampaignStart(ctx, "l1", c.ID, "two_step", t0)

	working, _ := repo.GetByID(ctx, c.ID)
	rec := model.StepRecord{StepIndex: 0, ExecutedAt: t0, Outcome: model.OutcomeSuccess}
	_ = working.Advance(rec, working.Steps, t0, time.Minute)

	ghost := *working
	ghost.LeadID = "ghost"
	if _, err := repo.SaveProgress(ctx, &ghost, 0, &rec, &model.LeadUpdate{Engagement: 1}); !errors.Is(err, appErrors.ErrNotFound) {
		t.Fatalf("expected lead not found, got %v", err)
	}
	if stored, _ := repo.GetByID(ctx, c.ID); stored.CurrentStepIndex != 0 || len(stored.CompletedSteps) != 0 {
		t.Fatalf("progress saved without its lead update: %+v", stored)
	}

	update := &model.LeadUpdate{Engagement: 1, ContactAt: &t0}
	if applied, err := repo.SaveProgress(ctx, working, 0, &rec, update); err != nil || !applied {
		t.Fatalf("SaveProgress: %v %v", applied, err)
	}
	l, _ := leads.GetByID(ctx, "l1")
	if l.EngagementScore != 1 || l.Status != model.LeadStatusActive || l.LastContactAt == nil {
		t.Errorf("lead not updated with progress: %+v", l)
	}

	// A discarded write leaves the lead alone too.
	if applied, _ := repo.SaveProgress(ctx, working, 0, &rec, update); applied {
		t.Fatalf("stale step applied twice")
	}
	if l, _ := leads.GetByID(ctx, "l1"); l.EngagementScore != 1 {
		t.Errorf("engagement changed by a discarded write: %d", l.EngagementScore)
	}
}
