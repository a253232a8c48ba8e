package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/browser/browsertest"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/monitor"
)

func runOne(t *testing.T, h *harness, id int) model.Outcome {
	t.Helper()
	result := h.orch.Run(context.Background(), h.campaign, h.orch.NewRun(h.campaign.ID, []int{id}, 1))
	require.Len(t, result.Results, 1)
	return result.Results[0]
}

func TestJob_CompletesThroughForm(t *testing.T) {
	h := newHarness(t, 1)
	id := h.addCompany(t, "acme.test", formSite("acme.test"))

	out := runOne(t, h, id)

	assert.Equal(t, model.StatusCompleted, out.Status)
	assert.Equal(t, model.ContactForm, out.ContactMethod)
	assert.True(t, out.Acknowledged)
	assert.Equal(t, 4, out.FieldsFilled)
	assert.NotEmpty(t, out.ScreenshotRef)

	stored := h.status(t, id)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, "https://acme.test", stored.ContactPageURL)

	page := h.browser.Pages()[0]
	assert.Equal(t, "jane@sender.test", page.Values[`input[name="email"]`])
	assert.Equal(t, "Hello acme.test, we admire https://acme.test.", page.Values[`textarea[name="message"]`])
	assert.Equal(t, []string{"#contact"}, page.Submitted)
}

func TestJob_EmailsOnlyIsPartialSuccess(t *testing.T) {
	h := newHarness(t, 1)
	id := h.addCompany(t, "quiet.test", emailSite("quiet.test"))

	out := runOne(t, h, id)

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, model.ReasonNoContactFound, out.Reason)
	assert.Equal(t, model.ContactEmail, out.ContactMethod)
	assert.ElementsMatch(t, []string{"sales@quiet.test", "press@quiet.test"}, out.EmailsFound)
	assert.True(t, out.PartialSuccess())
	assert.ElementsMatch(t, out.EmailsFound, h.status(t, id).EmailsFound)
}

func TestJob_NothingFound(t *testing.T) {
	h := newHarness(t, 1)
	id := h.addCompany(t, "empty.test", &browsertest.Site{
		Pages: map[string]string{"https://empty.test": "<html><body><p>Welcome</p></body></html>"},
	})

	out := runOne(t, h, id)

	assert.Equal(t, model.ReasonNoContactFound, out.Reason)
	assert.Equal(t, model.ContactNone, out.ContactMethod)
	assert.Empty(t, out.EmailsFound)
	assert.False(t, out.PartialSuccess())
}

func TestJob_CaptchaBlocks(t *testing.T) {
	h := newHarness(t, 1)
	id := h.addCompany(t, "guarded.test", &browsertest.Site{
		Pages: map[string]string{"https://guarded.test": `<html><body>
			<div class="g-recaptcha" data-sitekey="x"></div></body></html>`},
	})

	out := runOne(t, h, id)

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, model.ReasonCaptchaBlocked, out.Reason)
	assert.Empty(t, h.browser.Pages()[0].Submitted)
}

func TestJob_UnreachableSiteIsError(t *testing.T) {
	h := newHarness(t, 1)
	id := h.addCompany(t, "gone.test", nil)

	out := runOne(t, h, id)

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, model.ReasonError, out.Reason)
	assert.NotEmpty(t, out.ErrorMessage)
}

func TestJob_SubmitErrorKeepsFormDetails(t *testing.T) {
	h := newHarness(t, 1)
	site := formSite("broken.test")
	site.SubmitErr = errors.New("net::ERR_CONNECTION_RESET")
	id := h.addCompany(t, "broken.test", site)

	out := runOne(t, h, id)

	assert.Equal(t, model.ReasonError, out.Reason)
	assert.Equal(t, model.ContactForm, out.ContactMethod)
	assert.Equal(t, 4, out.FieldsFilled)
	assert.Empty(t, out.ScreenshotRef)
}

func TestJob_StreamEndsWithTerminalStatus(t *testing.T) {
	h := newHarness(t, 1)
	id := h.addCompany(t, "watched.test", formSite("watched.test"))
	sub := h.hub.Subscribe(h.campaign.ID, id)

	out := runOne(t, h, id)
	require.Equal(t, model.StatusCompleted, out.Status)

	var events []model.Event
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case e, ok := <-sub.C:
			if !ok {
				done = true
				break
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("stream never closed")
		}
	}
	require.NotEmpty(t, events)

	var statuses []model.Status
	for _, e := range events {
		assert.Equal(t, id, e.CompanyID)
		if e.Type == model.EventStatus {
			statuses = append(statuses, e.Data["status"].(model.Status))
		}
	}
	assert.Equal(t, []model.Status{
		model.StatusDiscovering, model.StatusFilling, model.StatusSubmitting, model.StatusCompleted,
	}, statuses)
	assert.True(t, events[len(events)-1].Terminal())
	assert.Equal(t, monitor.ReasonTerminal, sub.Reason())
}

func TestJob_CrashClosesStreamAsCrashed(t *testing.T) {
	h := newHarness(t, 1)
	site := formSite("fragile.test")
	site.PanicOnSubmit = true
	id := h.addCompany(t, "fragile.test", site)
	sub := h.hub.Subscribe(h.campaign.ID, id)

	runOne(t, h, id)

	var last model.Event
	for e := range sub.C {
		last = e
	}
	assert.Equal(t, model.EventError, last.Type)
	assert.Equal(t, monitor.ReasonCrashed, sub.Reason())
}
