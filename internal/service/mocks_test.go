package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/browser"
	"github.com/unclebandit/outreach-engine/internal/browser/browsertest"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/monitor"
	"github.com/unclebandit/outreach-engine/internal/quota"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/service"
	"github.com/unclebandit/outreach-engine/internal/storage"
)

func TestMain(m *testing.M) {
	zap.ReplaceGlobals(zap.NewNop())
	goleak.VerifyTestMain(m)
}

// ====================== Mock repositories ======================

type MockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
}

func NewMockCampaignRepo() *MockCampaignRepo {
	return &MockCampaignRepo{campaigns: make(map[int]*model.Campaign)}
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = len(m.campaigns) + 1
	c.CreatedAt = time.Now()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) UpdateCounters(_ context.Context, id int, counters model.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.QueuedCount, c.CompletedCount, c.FailedCount = counters.Queued, counters.Completed, counters.Failed
	return nil
}

type MockCompanyRepo struct {
	mu   sync.Mutex
	rows map[int]*model.Company
	Now  func() time.Time
}

func NewMockCompanyRepo() *MockCompanyRepo {
	return &MockCompanyRepo{rows: make(map[int]*model.Company), Now: time.Now}
}

func (m *MockCompanyRepo) Create(_ context.Context, c *model.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = len(m.rows) + 1
	if c.Status == "" {
		c.Status = model.StatusPending
	}
	c.CreatedAt, c.UpdatedAt = m.Now(), m.Now()
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *MockCompanyRepo) GetByID(_ context.Context, campaignID, companyID int) (*model.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[companyID]
	if !ok || c.CampaignID != campaignID {
		return nil, appErrors.NewCompanyNotFound(companyID)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCompanyRepo) sortedIDs(campaignID int, status model.Status) []int {
	ids := []int{}
	for id, c := range m.rows {
		if c.CampaignID == campaignID && (status == "" || c.Status == status) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (m *MockCompanyRepo) ListByCampaign(_ context.Context, campaignID int, f repository.CompanyFilter) ([]*model.Company, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.sortedIDs(campaignID, f.Status)
	out := []*model.Company{}
	for i := f.Offset; i < len(ids) && i < f.Offset+f.Limit; i++ {
		cp := *m.rows[ids[i]]
		out = append(out, &cp)
	}
	return out, len(ids), nil
}

func (m *MockCompanyRepo) IDsByStatus(_ context.Context, campaignID int, status model.Status) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedIDs(campaignID, status), nil
}

func (m *MockCompanyRepo) Transition(_ context.Context, companyID int, from, to model.Status) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[companyID]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = m.Now()
	if to == model.StatusPending {
		c.ErrorReason, c.ErrorMessage, c.EmailsFound = "", "", nil
	}
	return true, nil
}

func (m *MockCompanyRepo) SaveOutcome(_ context.Context, from model.Status, o model.Outcome) (bool, error) {
	if !o.Status.IsTerminal() || !model.CanTransition(from, o.Status) {
		return false, fmt.Errorf("illegal outcome %s -> %s", from, o.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[o.CompanyID]
	if !ok || c.Status != from {
		return false, nil
	}
	now := m.Now()
	c.Status = o.Status
	c.ErrorReason = o.Reason
	c.ErrorMessage = o.ErrorMessage
	c.ContactMethod = o.ContactMethod
	c.EmailsFound = o.EmailsFound
	c.ContactPageURL = o.ContactPageURL
	c.ScreenshotRef = o.ScreenshotRef
	c.FieldsFilled = o.FieldsFilled
	c.ProcessedAt = &now
	c.UpdatedAt = now
	return true, nil
}

func (m *MockCompanyRepo) ResetStuck(_ context.Context, campaignID int, cutoff time.Time, exclude map[int]bool) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reset := []int{}
	for _, id := range m.sortedIDs(campaignID, "") {
		c := m.rows[id]
		if exclude[id] || !model.CanForceReset(c.Status) || !c.UpdatedAt.Before(cutoff) {
			continue
		}
		c.Status = model.StatusPending
		c.UpdatedAt = m.Now()
		reset = append(reset, id)
	}
	return reset, nil
}

func (m *MockCompanyRepo) StatusCounts(_ context.Context, campaignID int) (map[model.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.Status]int)
	for _, c := range m.rows {
		if c.CampaignID == campaignID {
			counts[c.Status]++
		}
	}
	return counts, nil
}

// SetStatus bypasses the state machine to stage fixtures.
func (m *MockCompanyRepo) SetStatus(id int, s model.Status, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = s
	m.rows[id].UpdatedAt = updatedAt
}

// ====================== Fixtures ======================

const formPage = `<html><body>
<form id="contact">
  <input name="first_name" placeholder="First name">
  <input name="last_name" placeholder="Last name">
  <input type="email" name="email" placeholder="Email">
  <textarea name="message" placeholder="Message"></textarea>
  <button type="submit">Send</button>
</form></body></html>`

const emailsOnlyPage = `<html><body><p>Write to sales@%[1]s or
<a href="mailto:press@%[1]s">the press desk</a>.</p></body></html>`

const thanksPage = `<html><body><h1>Thank you</h1></body></html>`

func formSite(host string) *browsertest.Site {
	return &browsertest.Site{
		Pages:       map[string]string{"https://" + host: formPage},
		AfterSubmit: thanksPage,
	}
}

func emailSite(host string) *browsertest.Site {
	return &browsertest.Site{
		Pages: map[string]string{"https://" + host: fmt.Sprintf(emailsOnlyPage, host)},
	}
}

type harness struct {
	svc       *service.CampaignService
	campaigns *MockCampaignRepo
	companies *MockCompanyRepo
	browser   *browsertest.Browser
	hub       *monitor.Hub
	orch      *service.Orchestrator
	campaign  *model.Campaign
}

func newHarness(t *testing.T, concurrency int) *harness {
	t.Helper()
	h := &harness{
		campaigns: NewMockCampaignRepo(),
		companies: NewMockCompanyRepo(),
		browser:   browsertest.NewBrowser(),
		hub:       monitor.NewHub(256),
	}
	shots, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	jobs := &service.Jobs{
		Companies: h.companies,
		Driver: browser.NewDriver(h.browser, browser.Config{
			NavigationTimeout: 10 * time.Second,
			SettleTimeout:     50 * time.Millisecond,
		}),
		Screenshots:  shots,
		Events:       h.hub,
		StageTimeout: 5 * time.Second,
	}
	h.orch = service.NewOrchestrator(h.campaigns, h.companies, jobs, concurrency, 0)
	h.svc = &service.CampaignService{
		CampaignRepo:   h.campaigns,
		CompanyRepo:    h.companies,
		Gatekeeper:     quota.NewGatekeeper(quota.NewMemoryStore()),
		Orchestrator:   h.orch,
		DefaultSubject: "Business Inquiry",
	}

	h.campaign = &model.Campaign{
		Name:            "Launch",
		Sender:          model.SenderProfile{FirstName: "Jane", LastName: "Doe", Email: "jane@sender.test", Country: "UK"},
		MessageTemplate: "Hello {company_name}, we admire {website_url}.",
	}
	require.NoError(t, h.campaigns.Create(context.Background(), h.campaign))
	return h
}

// addCompany registers a company whose website is served by site.
func (h *harness) addCompany(t *testing.T, host string, site *browsertest.Site) int {
	t.Helper()
	if site != nil {
		h.browser.AddSite("https://"+host, site)
	}
	c := &model.Company{CampaignID: h.campaign.ID, Name: host, WebsiteURL: "https://" + host}
	require.NoError(t, h.companies.Create(context.Background(), c))
	return c.ID
}

func (h *harness) addFormCompanies(t *testing.T, n int) []int {
	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		host := fmt.Sprintf("co%d.test", i+1)
		ids = append(ids, h.addCompany(t, host, formSite(host)))
	}
	return ids
}

func (h *harness) status(t *testing.T, id int) *model.Company {
	t.Helper()
	c, err := h.companies.GetByID(context.Background(), h.campaign.ID, id)
	require.NoError(t, err)
	return c
}

func guest(id string) service.Caller { return service.Caller{ID: id, Tier: "guest"} }

func unlimited(id string) service.Caller { return service.Caller{ID: id, Tier: "enterprise"} }
