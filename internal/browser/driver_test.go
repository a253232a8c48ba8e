package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/browser"
	"github.com/unclebandit/outreach-engine/internal/browser/browsertest"
	"github.com/unclebandit/outreach-engine/internal/formfill"
	"github.com/unclebandit/outreach-engine/internal/model"
)

const contactForm = `<html><body>
<div class="banner"><button id="accept">Accept cookies</button></div>
<form id="contact-form">
  <input name="first_name" placeholder="First name">
  <input name="last_name" placeholder="Last name">
  <input type="email" name="email">
  <select name="country"><option value="">Select</option><option value="GB">United Kingdom</option></select>
  <textarea name="message"></textarea>
  <label><input type="checkbox" name="optin"> Yes, send me marketing news</label>
  <label><input type="checkbox" name="tos"> I agree to the terms and conditions</label>
  <button type="submit" id="send">Send</button>
</form></body></html>`

const thankYou = `<html><body><h1>Thank you!</h1><p>We will be in touch.</p></body></html>`

type recorder struct {
	events []map[string]any
}

func (r *recorder) emit(typ model.EventType, data map[string]any) {
	r.events = append(r.events, data)
}

func (r *recorder) actions() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e["action"].(string))
	}
	return out
}

func resolver() formfill.Resolver {
	return formfill.Resolver{
		Sender: model.SenderProfile{
			FirstName: "Jane",
			LastName:  "Doe",
			Email:     "jane@mycompany.com",
			Country:   "UK",
		},
		Company:  &model.Company{Name: "Acme", WebsiteURL: "https://acme.test"},
		Template: "Hello {company_name}",
	}
}

func open(t *testing.T, b *browsertest.Browser, cfg browser.Config) (*browser.Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := browser.NewDriver(b, cfg).Open(context.Background(), rec.emit)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rec
}

func TestSession_LandingFormFillAndSubmit(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{
		Pages:       map[string]string{"https://acme.test": contactForm},
		AfterSubmit: thankYou,
	})
	s, rec := open(t, b, browser.Config{})
	ctx := context.Background()

	d, err := s.Discover(ctx, "acme.test")
	require.NoError(t, err)
	require.NotNil(t, d.Form)
	assert.Equal(t, "https://acme.test", d.PageURL)

	n, err := s.Fill(ctx, resolver())
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	res, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.True(t, res.Acknowledged)
	assert.Equal(t, "thank you", res.SuccessPhrase)

	shot, err := s.Screenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, shot)

	page := b.Pages()[0]
	assert.Equal(t, map[string]string{
		`input[name="first_name"]`: "Jane",
		`input[name="last_name"]`:  "Doe",
		`input[name="email"]`:      "jane@mycompany.com",
		`select[name="country"]`:   "GB",
		`textarea[name="message"]`: "Hello Acme",
	}, page.Values)
	assert.Equal(t, []string{`input[name="optin"]`}, page.Checked)
	assert.Contains(t, page.Clicked, "#accept")
	assert.Equal(t, []string{"#contact-form"}, page.Submitted)

	actions := rec.actions()
	for _, want := range []string{"navigate", "captcha_check", "consent_dismissed", "form_found", "field_classified", "field_filled", "submit_attempted", "screenshot"} {
		assert.Contains(t, actions, want)
	}
}

func TestSession_FollowsContactLink(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{Pages: map[string]string{
		"https://acme.test/":          `<a href="/about">About</a><a href="/get-in-touch">Get in touch</a>`,
		"https://acme.test/get-in-touch": contactForm,
	}})
	s, _ := open(t, b, browser.Config{})

	d, err := s.Discover(context.Background(), "https://acme.test/")
	require.NoError(t, err)
	require.NotNil(t, d.Form)
	assert.Equal(t, "https://acme.test/get-in-touch", d.PageURL)
}

func TestSession_GuessesContactPath(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{Pages: map[string]string{
		"https://acme.test/":           `<p>Welcome</p>`,
		"https://acme.test/contact-us": contactForm,
	}})
	s, _ := open(t, b, browser.Config{})

	d, err := s.Discover(context.Background(), "https://acme.test/")
	require.NoError(t, err)
	require.NotNil(t, d.Form)
	assert.Equal(t, "https://acme.test/contact-us", d.PageURL)
	assert.Equal(t, []string{"https://acme.test/", "https://acme.test/contact", "https://acme.test/contact-us"}, b.Pages()[0].Visited)
}

func TestSession_GuessesEveryCommonPath(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{Pages: map[string]string{
		"https://acme.test/":         `<p>Welcome</p>`,
		"https://acme.test/reach-us": contactForm,
	}})
	s, _ := open(t, b, browser.Config{})

	d, err := s.Discover(context.Background(), "https://acme.test/")
	require.NoError(t, err)
	require.NotNil(t, d.Form)
	assert.Equal(t, "https://acme.test/reach-us", d.PageURL)
	assert.Equal(t, []string{
		"https://acme.test/",
		"https://acme.test/contact",
		"https://acme.test/contact-us",
		"https://acme.test/get-in-touch",
		"https://acme.test/reach-us",
	}, b.Pages()[0].Visited)
}

func TestSession_NoFormHarvestsEmails(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{Pages: map[string]string{
		"https://acme.test/":        `<p>Write to sales@acme.test</p><a href="/contact">Contact</a>`,
		"https://acme.test/contact": `<p>Press: press@acme.test or SALES@acme.test</p>`,
	}})
	s, rec := open(t, b, browser.Config{})

	d, err := s.Discover(context.Background(), "https://acme.test/")
	require.NoError(t, err)
	assert.Nil(t, d.Form)
	assert.Equal(t, []string{"sales@acme.test", "press@acme.test"}, d.Emails)
	assert.Contains(t, rec.actions(), "emails_extracted")

	_, err = s.Fill(context.Background(), resolver())
	assert.Error(t, err)
}

func TestSession_EmailCap(t *testing.T) {
	body := ""
	for _, c := range "abcdefghijkl" {
		body += string(c) + "@acme.test "
	}
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{Pages: map[string]string{"https://acme.test/": body}})
	s, _ := open(t, b, browser.Config{MaxEmails: 10})

	d, err := s.Discover(context.Background(), "https://acme.test/")
	require.NoError(t, err)
	assert.Len(t, d.Emails, 10)
}

func TestSession_CaptchaOnContactPage(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{Pages: map[string]string{
		"https://acme.test/":        `<a href="/contact">Contact</a>`,
		"https://acme.test/contact": `<form><input name="email"><textarea name="message"></textarea><div class="g-recaptcha"></div></form>`,
	}})
	s, _ := open(t, b, browser.Config{})

	_, err := s.Discover(context.Background(), "https://acme.test/")
	var captcha *browser.CaptchaError
	require.True(t, errors.As(err, &captcha))
	assert.Equal(t, "g-recaptcha", captcha.Marker)
	assert.Equal(t, "https://acme.test/contact", captcha.URL)
}

func TestSession_CaptchaAfterSubmit(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{
		Pages:       map[string]string{"https://acme.test": contactForm},
		AfterSubmit: `<p>Please verify you are human</p>`,
	})
	s, _ := open(t, b, browser.Config{})
	ctx := context.Background()

	_, err := s.Discover(ctx, "https://acme.test")
	require.NoError(t, err)
	_, err = s.Fill(ctx, resolver())
	require.NoError(t, err)

	_, err = s.Submit(ctx)
	var captcha *browser.CaptchaError
	assert.True(t, errors.As(err, &captcha))
}

func TestSession_NavigationTimeout(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://slow.test", &browsertest.Site{Hang: true})
	s, _ := open(t, b, browser.Config{NavigationTimeout: 20 * time.Millisecond})

	_, err := s.Discover(context.Background(), "https://slow.test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSession_CancelledContext(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://slow.test", &browsertest.Site{Hang: true})
	s, _ := open(t, b, browser.Config{NavigationTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := s.Discover(ctx, "https://slow.test")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_UnreachableSite(t *testing.T) {
	b := browsertest.NewBrowser()
	s, _ := open(t, b, browser.Config{})

	_, err := s.Discover(context.Background(), "https://nowhere.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
}

func TestSession_SubmitError(t *testing.T) {
	b := browsertest.NewBrowser()
	b.AddSite("https://acme.test", &browsertest.Site{
		Pages:     map[string]string{"https://acme.test": contactForm},
		SubmitErr: errors.New("element detached"),
	})
	s, _ := open(t, b, browser.Config{})
	ctx := context.Background()

	_, err := s.Discover(ctx, "https://acme.test")
	require.NoError(t, err)
	_, err = s.Fill(ctx, resolver())
	require.NoError(t, err)
	_, err = s.Submit(ctx)
	assert.ErrorContains(t, err, "element detached")
}
