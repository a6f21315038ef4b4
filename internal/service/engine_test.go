package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/dispatch"
	"github.com/unclebandit/leadnurture/internal/lock"
	"github.com/unclebandit/leadnurture/internal/model"
	"github.com/unclebandit/leadnurture/internal/queue"
	"github.com/unclebandit/leadnurture/internal/repository"
	"github.com/unclebandit/leadnurture/internal/service"
	"github.com/unclebandit/leadnurture/internal/templates"
)

var start = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// --- Mock Dispatcher ---

type MockDispatcher struct {
	mu       sync.Mutex
	sent     []dispatch.Message
	failNext int
	err      error
	panicFor string
	onSend   func(dispatch.Message)
}

func (m *MockDispatcher) Send(ctx context.Context, msg dispatch.Message) (dispatch.Result, error) {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	hook := m.onSend
	fail := m.failNext > 0
	if fail {
		m.failNext--
	}
	err, panicFor := m.err, m.panicFor
	m.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	if panicFor != "" && msg.LeadID == panicFor {
		panic("provider client blew up")
	}
	if err != nil {
		return dispatch.Result{}, err
	}
	if fail {
		return dispatch.Result{Success: false, Detail: "provider timeout"}, nil
	}
	return dispatch.Result{Success: true, Detail: "sent"}, nil
}

func (m *MockDispatcher) Sent() []dispatch.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatch.Message(nil), m.sent...)
}

// --- Harness ---

type harness struct {
	leads     *repository.MemoryLeadRepository
	campaigns *repository.MemoryCampaignRepository
	disp      *MockDispatcher
	engine    *service.Engine
	svc       *service.CampaignService
	events    *queue.InMemoryQueue
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	leads := repository.NewMemoryLeadRepository()
	h := &harness{
		leads:     leads,
		campaigns: repository.NewMemoryCampaignRepository(leads),
		disp:      &MockDispatcher{},
		events:    queue.NewInMemoryQueue(zap.NewNop()),
		clock:     start,
	}
	store := templates.NewStaticStore(defaultTemplates()...)
	locks := lock.NewKeyedMutex()

	h.engine = &service.Engine{
		Leads:       h.leads,
		Campaigns:   h.campaigns,
		Templates:   store,
		Dispatcher:  h.disp,
		LeadLocks:   locks,
		Events:      h.events,
		EventTopic:  "nurture:events",
		Concurrency: 4,
		BatchSize:   2,
		Log:         zap.NewNop(),
	}
	h.svc = &service.CampaignService{
		LeadRepo:        h.leads,
		CampaignRepo:    h.campaigns,
		Templates:       store,
		WelcomeTemplate: "welcome_series",
		LeadLocks:       locks,
		Events:          h.events,
		EventTopic:      "nurture:events",
		Clock:           func() time.Time { return h.clock },
		Log:             zap.NewNop(),
	}
	return h
}

func defaultTemplates() []*model.Template {
	var out []*model.Template
	for _, t := range templates.Defaults() {
		out = append(out, t)
	}
	return out
}

func (h *harness) startLead(t *testing.T, id, email string) string {
	t.Helper()
	res, err := h.svc.StartCampaign(context.Background(), service.LeadInput{ID: id, Email: email, Name: "Ada"})
	if err != nil {
		t.Fatalf("StartCampaign(%s): %v", id, err)
	}
	return res.CampaignID
}

func (h *harness) campaign(t *testing.T, id string) *model.CampaignInstance {
	t.Helper()
	c, err := h.campaigns.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return c
}

func (h *harness) lead(t *testing.T, id string) *model.Lead {
	t.Helper()
	l, err := h.leads.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return l
}

func assertStepOrdering(t *testing.T, c *model.CampaignInstance) {
	t.Helper()
	want := 0
	for _, rec := range c.CompletedSteps {
		if rec.Outcome != model.OutcomeSuccess {
			continue
		}
		if rec.StepIndex != want {
			t.Fatalf("successful step %d recorded where %d expected: %+v", rec.StepIndex, want, c.CompletedSteps)
		}
		want++
	}
}

func dueIDs(t *testing.T, repo repository.CampaignRepositoryInterface, now time.Time) []string {
	t.Helper()
	var ids []string
	for c, err := range repo.DueInstances(context.Background(), now, 10) {
		if err != nil {
			t.Fatalf("DueInstances: %v", err)
		}
		ids = append(ids, c.ID)
	}
	return ids
}

// --- Tests ---

func TestWelcomeSeriesScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.startLead(t, "L1", "a@b.com")
	if id != "campaign_L1_1" {
		t.Fatalf("unexpected campaign id %s", id)
	}
	c := h.campaign(t, id)
	if c.CurrentStepIndex != 0 || !c.NextActionAt.Equal(start) || c.Status != model.CampaignStatusActive {
		t.Fatalf("unexpected new instance: %+v", c)
	}

	res := h.engine.Tick(ctx, start)
	if res.Due != 1 || res.Advanced != 1 {
		t.Fatalf("first tick: %+v", res)
	}
	c = h.campaign(t, id)
	if c.CurrentStepIndex != 1 || !c.NextActionAt.Equal(start.Add(3*day)) {
		t.Fatalf("after first tick: index=%d next=%v", c.CurrentStepIndex, c.NextActionAt)
	}
	if l := h.lead(t, "L1"); l.EngagementScore != 1 || l.Status != model.LeadStatusActive || l.LastContactAt == nil {
		t.Fatalf("lead not updated: %+v", l)
	}

	if res := h.engine.Tick(ctx, start.Add(day)); res.Due != 0 {
		t.Fatalf("instance should not be due after one day: %+v", res)
	}
	if c := h.campaign(t, id); c.CurrentStepIndex != 1 {
		t.Fatalf("not-due tick changed index to %d", c.CurrentStepIndex)
	}

	h.engine.Tick(ctx, start.Add(3*day))
	c = h.campaign(t, id)
	if c.CurrentStepIndex != 2 || !c.NextActionAt.Equal(start.Add(10*day)) {
		t.Fatalf("after day 3: index=%d next=%v", c.CurrentStepIndex, c.NextActionAt)
	}

	res = h.engine.Tick(ctx, start.Add(10*day))
	if res.Completed != 1 {
		t.Fatalf("expected completion, got %+v", res)
	}
	c = h.campaign(t, id)
	if c.Status != model.CampaignStatusCompleted || c.CompletedAt == nil || !c.CompletedAt.Equal(start.Add(10*day)) {
		t.Fatalf("not completed: %+v", c)
	}
	assertStepOrdering(t, c)
	if len(c.CompletedSteps) != 3 {
		t.Errorf("expected 3 step records, got %d", len(c.CompletedSteps))
	}

	if ids := dueIDs(t, h.campaigns, start.Add(100*day)); len(ids) != 0 {
		t.Errorf("completed instance still due: %v", ids)
	}
	if res := h.engine.Tick(ctx, start.Add(100*day)); res.Due != 0 {
		t.Errorf("completed instance processed again: %+v", res)
	}

	l := h.lead(t, "L1")
	if l.EngagementScore != 3 {
		t.Errorf("engagement = %d, want 3", l.EngagementScore)
	}
	if len(l.CampaignHistory) != 1 || l.CampaignHistory[0].Status != model.CampaignStatusCompleted {
		t.Errorf("history not completed: %+v", l.CampaignHistory)
	}

	sent := h.disp.Sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sent))
	}
	for i, msg := range sent {
		if msg.StepIndex != i || msg.Recipient != "a@b.com" || msg.Channel != model.ChannelEmail {
			t.Errorf("send %d: %+v", i, msg)
		}
	}
	if !strings.Contains(sent[0].Body, "Ada") {
		t.Errorf("body not rendered for lead: %q", sent[0].Body)
	}
}

func TestTickTwiceWithSameNowDoesNotRepeatStep(t *testing.T) {
	h := newHarness(t)
	id := h.startLead(t, "L1", "a@b.com")

	h.engine.Tick(context.Background(), start)
	res := h.engine.Tick(context.Background(), start)

	if res.Due != 0 {
		t.Errorf("second tick saw due instances: %+v", res)
	}
	if n := len(h.disp.Sent()); n != 1 {
		t.Errorf("step dispatched %d times", n)
	}
	if c := h.campaign(t, id); c.CurrentStepIndex != 1 {
		t.Errorf("index = %d", c.CurrentStepIndex)
	}
}

func TestDispatchFailureThenRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startLead(t, "L1", "a@b.com")
	h.disp.failNext = 1

	res := h.engine.Tick(ctx, start)
	if res.Retried != 1 || res.Advanced != 0 {
		t.Fatalf("expected a retry, got %+v", res)
	}
	c := h.campaign(t, id)
	if c.CurrentStepIndex != 0 || len(c.CompletedSteps) != 1 || c.CompletedSteps[0].Outcome != model.OutcomeFailure {
		t.Fatalf("failure not recorded correctly: %+v", c)
	}
	if c.Attempts != 1 {
		t.Errorf("attempts = %d", c.Attempts)
	}
	if l := h.lead(t, "L1"); l.EngagementScore != 0 {
		t.Errorf("failed dispatch incremented engagement")
	}
	if ids := dueIDs(t, h.campaigns, start); len(ids) != 1 || ids[0] != id {
		t.Fatalf("failed instance should be due again, got %v", ids)
	}

	res = h.engine.Tick(ctx, start)
	if res.Advanced != 1 {
		t.Fatalf("expected recovery, got %+v", res)
	}
	c = h.campaign(t, id)
	if c.CurrentStepIndex != 1 || len(c.CompletedSteps) != 2 || c.Attempts != 0 {
		t.Errorf("unexpected state after recovery: %+v", c)
	}
	assertStepOrdering(t, c)
}

func TestRetryBacksOff(t *testing.T) {
	h := newHarness(t)
	h.engine.Retry = service.RetryPolicy{BaseDelay: time.Minute, MaxDelay: 5 * time.Minute}
	ctx := context.Background()
	id := h.startLead(t, "L1", "a@b.com")
	h.disp.failNext = 10

	h.engine.Tick(ctx, start)
	if c := h.campaign(t, id); !c.NextActionAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("first retry at %v", c.NextActionAt)
	}
	if res := h.engine.Tick(ctx, start.Add(30*time.Second)); res.Due != 0 {
		t.Fatalf("retried before backoff elapsed: %+v", res)
	}

	h.engine.Tick(ctx, start.Add(time.Minute))
	if c := h.campaign(t, id); !c.NextActionAt.Equal(start.Add(3 * time.Minute)) {
		t.Fatalf("second retry at %v", c.NextActionAt)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := service.RetryPolicy{BaseDelay: time.Minute, MaxDelay: time.Hour}
	tests := map[int]time.Duration{
		0:  0,
		1:  time.Minute,
		2:  2 * time.Minute,
		3:  4 * time.Minute,
		7:  time.Hour,
		40: time.Hour,
	}
	for attempts, want := range tests {
		if got := p.Delay(attempts); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempts, got, want)
		}
	}
	if d := (service.RetryPolicy{}).Delay(3); d != 0 {
		t.Errorf("zero policy should retry immediately, got %v", d)
	}
}

func TestMaxAttemptsFailsInstance(t *testing.T) {
	h := newHarness(t)
	h.engine.Retry = service.RetryPolicy{MaxAttempts: 2}
	ctx := context.Background()
	id := h.startLead(t, "L1", "a@b.com")
	h.disp.failNext = 10

	h.engine.Tick(ctx, start)
	res := h.engine.Tick(ctx, start)
	if res.Failed != 1 {
		t.Fatalf("expected instance to fail, got %+v", res)
	}

	c := h.campaign(t, id)
	if c.Status != model.CampaignStatusFailed || !strings.Contains(c.Error, "dispatch failed") {
		t.Fatalf("unexpected state: %+v", c)
	}
	if len(c.CompletedSteps) != 2 {
		t.Errorf("expected both failures logged, got %d", len(c.CompletedSteps))
	}
	if l := h.lead(t, "L1"); l.CampaignHistory[0].Status != model.CampaignStatusFailed {
		t.Errorf("history not failed: %+v", l.CampaignHistory)
	}
	if res := h.engine.Tick(ctx, start.Add(day)); res.Due != 0 {
		t.Errorf("failed instance still processed: %+v", res)
	}
}

func TestPauseFreezesProgression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startLead(t, "L1", "a@b.com")

	if _, err := h.svc.PauseCampaign(ctx, id); err != nil {
		t.Fatalf("PauseCampaign: %v", err)
	}
	for _, at := range []time.Time{start, start.Add(3 * day), start.Add(30 * day)} {
		h.engine.Tick(ctx, at)
	}
	c := h.campaign(t, id)
	if c.CurrentStepIndex != 0 || len(c.CompletedSteps) != 0 || len(h.disp.Sent()) != 0 {
		t.Fatalf("paused instance progressed: %+v", c)
	}

	h.clock = start.Add(30 * day)
	if _, err := h.svc.ResumeCampaign(ctx, id); err != nil {
		t.Fatalf("ResumeCampaign: %v", err)
	}
	res := h.engine.Tick(ctx, start.Add(30*day))
	if res.Advanced != 1 {
		t.Fatalf("resumed instance with overdue step should run: %+v", res)
	}
	if c := h.campaign(t, id); c.CurrentStepIndex != 1 || !c.NextActionAt.Equal(start.Add(33*day)) {
		t.Errorf("after resume: index=%d next=%v", c.CurrentStepIndex, c.NextActionAt)
	}
}

func TestPauseDuringDispatchDiscardsProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startLead(t, "L1", "a@b.com")
	h.disp.onSend = func(msg dispatch.Message) {
		if _, err := h.svc.PauseCampaign(ctx, msg.CampaignID); err != nil {
			t.Errorf("pause mid-flight: %v", err)
		}
	}

	res := h.engine.Tick(ctx, start)
	if res.Skipped != 1 || res.Errors != 0 || res.Advanced != 0 {
		t.Fatalf("late advance should be a silent no-op: %+v", res)
	}
	c := h.campaign(t, id)
	if c.Status != model.CampaignStatusPaused || c.CurrentStepIndex != 0 || len(c.CompletedSteps) != 0 {
		t.Errorf("paused instance changed: %+v", c)
	}
	if l := h.lead(t, "L1"); l.EngagementScore != 0 {
		t.Errorf("engagement changed for discarded step")
	}
}

func TestDispatcherErrorsAndPanicsAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bad := h.startLead(t, "bad", "bad@b.com")
	good := h.startLead(t, "good", "good@b.com")
	h.disp.panicFor = "bad"

	res := h.engine.Tick(ctx, start)
	if res.Due != 2 || res.Retried != 1 || res.Advanced != 1 {
		t.Fatalf("unexpected tick result: %+v", res)
	}
	if c := h.campaign(t, bad); c.CurrentStepIndex != 0 || c.CompletedSteps[0].Outcome != model.OutcomeFailure ||
		!strings.Contains(c.CompletedSteps[0].Detail, "panic") {
		t.Errorf("panicking dispatch not recorded as failure: %+v", c.CompletedSteps)
	}
	if c := h.campaign(t, good); c.CurrentStepIndex != 1 {
		t.Errorf("healthy instance not advanced")
	}

	h.disp.panicFor = ""
	h.disp.err = errors.New("connection refused")
	res = h.engine.Tick(ctx, start)
	if res.Retried != 1 {
		t.Fatalf("dispatcher error should be a retry: %+v", res)
	}
	if c := h.campaign(t, bad); c.CompletedSteps[1].Detail != "connection refused" {
		t.Errorf("unexpected detail: %+v", c.CompletedSteps[1])
	}
}

func TestMissingTemplateMarksInstanceFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.leads.Register(ctx, &model.Lead{ID: "L1", Email: "a@b.com"})
	orphan := &model.CampaignInstance{
		ID:           "campaign_L1_1",
		LeadID:       "L1",
		TemplateName: "retired_series",
		Status:       model.CampaignStatusActive,
		NextActionAt: start,
		StartedAt:    start,
	}
	_ = h.campaigns.Create(ctx, orphan)
	_ = h.leads.RecordCampaignStart(ctx, "L1", orphan.ID, "retired_series", start)
	other := h.startLead(t, "L2", "c@d.com")

	res := h.engine.Tick(ctx, start)
	if res.Failed != 1 || res.Advanced != 1 {
		t.Fatalf("unexpected tick result: %+v", res)
	}
	c := h.campaign(t, orphan.ID)
	if c.Status != model.CampaignStatusFailed || !strings.Contains(c.Error, "retired_series") {
		t.Errorf("orphan not failed: %+v", c)
	}
	if l := h.lead(t, "L1"); l.CampaignHistory[0].Status != model.CampaignStatusFailed {
		t.Errorf("history not updated: %+v", l.CampaignHistory)
	}
	if c := h.campaign(t, other); c.CurrentStepIndex != 1 {
		t.Errorf("other instance not processed")
	}
}

func TestMissingLeadMarksInstanceFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl, _ := h.svc.Templates.Get("welcome_series")
	c := model.NewCampaignInstance("ghost", 1, tmpl, start)
	_ = h.campaigns.Create(ctx, c)

	res := h.engine.Tick(ctx, start)
	if res.Failed != 1 {
		t.Fatalf("expected failure, got %+v", res)
	}
	got := h.campaign(t, c.ID)
	if got.Status != model.CampaignStatusFailed {
		t.Errorf("status = %s", got.Status)
	}
	if !strings.Contains(got.Error, "lead ghost not found") {
		t.Errorf("error should name the missing lead, got %q", got.Error)
	}
	if len(h.disp.Sent()) != 0 {
		t.Errorf("message sent for missing lead")
	}
}

func TestSnapshotSurvivesTemplateRemoval(t *testing.T) {
	h := newHarness(t)
	id := h.startLead(t, "L1", "a@b.com")
	h.engine.Templates = templates.NewStaticStore()

	res := h.engine.Tick(context.Background(), start)
	if res.Advanced != 1 {
		t.Fatalf("snapshotted instance should run without its template: %+v", res)
	}
	if c := h.campaign(t, id); c.CurrentStepIndex != 1 {
		t.Errorf("index = %d", c.CurrentStepIndex)
	}
}

func TestLeasedInstanceIsSkipped(t *testing.T) {
	h := newHarness(t)
	locker := lock.NewLocalLocker()
	h.engine.Locker = locker
	id := h.startLead(t, "L1", "a@b.com")

	release, ok, _ := locker.TryLock(context.Background(), "campaign:"+id, time.Minute)
	if !ok {
		t.Fatal("could not take lease")
	}
	res := h.engine.Tick(context.Background(), start)
	if res.Skipped != 1 || len(h.disp.Sent()) != 0 {
		t.Fatalf("leased instance processed: %+v", res)
	}

	release()
	if res := h.engine.Tick(context.Background(), start); res.Advanced != 1 {
		t.Errorf("instance not processed after lease release: %+v", res)
	}
}

func TestConcurrentInstancesOfOneLead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.startLead(t, "L1", "a@b.com")
	for i := 0; i < 5; i++ {
		if _, err := h.svc.StartCampaignForLead(ctx, "L1", "re_engagement"); err != nil {
			t.Fatalf("StartCampaignForLead: %v", err)
		}
	}

	res := h.engine.Tick(ctx, start)
	if res.Due != 6 || res.Advanced != 6 {
		t.Fatalf("unexpected tick result: %+v", res)
	}
	l := h.lead(t, "L1")
	if l.EngagementScore != 6 {
		t.Errorf("lost engagement updates: %d", l.EngagementScore)
	}
	if len(l.CampaignHistory) != 6 || l.CampaignHistory[5].CampaignID != "campaign_L1_6" {
		t.Errorf("unexpected history: %+v", l.CampaignHistory)
	}
}

func TestTickPublishesEvents(t *testing.T) {
	h := newHarness(t)
	var (
		mu    sync.Mutex
		types []string
	)
	_ = h.events.Subscribe(context.Background(), "nurture:events", func(e queue.Event) error {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
		return nil
	})

	h.startLead(t, "L1", "a@b.com")
	h.engine.Tick(context.Background(), start)
	h.events.Wait()

	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, typ := range types {
		seen[typ] = true
	}
	if !seen[queue.EventCampaignStarted] || !seen[queue.EventStepExecuted] {
		t.Errorf("missing events, got %v", types)
	}
}

// brokenLeadWrites fails the standalone lead writes. Reads still work.
type brokenLeadWrites struct {
	*repository.MemoryLeadRepository
}

func (b brokenLeadWrites) IncrementEngagement(ctx context.Context, leadID string) error {
	return errors.New("connection reset")
}

func (b brokenLeadWrites) RecordContact(ctx context.Context, leadID string, at time.Time) error {
	return errors.New("connection reset")
}

func (b brokenLeadWrites) RecordCampaignStatus(ctx context.Context, leadID, campaignID string, status model.CampaignStatus, at time.Time) error {
	return errors.New("connection reset")
}

func TestLeadUpdatesAreWrittenWithProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startLead(t, "L1", "a@b.com")
	h.engine.Leads = brokenLeadWrites{h.leads}

	for _, at := range []time.Time{start, start.Add(3 * day), start.Add(10 * day)} {
		if res := h.engine.Tick(ctx, at); res.Errors != 0 {
			t.Fatalf("tick at %v: %+v", at, res)
		}
	}

	c := h.campaign(t, id)
	if c.Status != model.CampaignStatusCompleted {
		t.Fatalf("campaign not completed: %+v", c)
	}
	successes := 0
	for _, rec := range c.CompletedSteps {
		if rec.Outcome == model.OutcomeSuccess {
			successes++
		}
	}
	l := h.lead(t, "L1")
	if l.EngagementScore != successes {
		t.Errorf("engagement %d out of step with %d successful steps", l.EngagementScore, successes)
	}
	if l.LastContactAt == nil || !l.LastContactAt.Equal(start.Add(10*day)) {
		t.Errorf("last contact = %v", l.LastContactAt)
	}
	if l.CampaignHistory[0].Status != model.CampaignStatusCompleted {
		t.Errorf("history not completed: %+v", l.CampaignHistory)
	}
}

func TestFailedProgressWriteLeavesLeadUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl, _ := h.svc.Templates.Get("welcome_series")
	_ = h.leads.Register(ctx, &model.Lead{ID: "L1", Email: "a@b.com"})

	// Lead store the campaign repository cannot see.
	h.campaigns = repository.NewMemoryCampaignRepository(repository.NewMemoryLeadRepository())
	h.engine.Campaigns = h.campaigns
	c := model.NewCampaignInstance("L1", 1, tmpl, start)
	_ = h.campaigns.Create(ctx, c)

	res := h.engine.Tick(ctx, start)
	if res.Errors != 1 || res.Advanced != 0 {
		t.Fatalf("unexpected tick result: %+v", res)
	}
	if got := h.campaign(t, c.ID); got.CurrentStepIndex != 0 || len(got.CompletedSteps) != 0 {
		t.Errorf("progress saved without lead update: %+v", got)
	}
	if l := h.lead(t, "L1"); l.EngagementScore != 0 || l.LastContactAt != nil {
		t.Errorf("lead changed: %+v", l)
	}
}
