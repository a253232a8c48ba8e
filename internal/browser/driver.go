package browser

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/formfill"
	"github.com/unclebandit/outreach-engine/internal/model"
)

var consentButtonPattern = regexp.MustCompile(`(?i)\b(accept|agree|allow all|got it|ok|okay|close|dismiss)\b`)

var contactPathGuesses = []string{"/contact", "/contact-us", "/get-in-touch", "/reach-us", "/contactus"}

var successPhrases = []string{
	"thank you", "thanks for", "message sent", "message has been sent",
	"received your", "we'll be in touch", "we will be in touch", "successfully",
}

// Driver opens sessions against a Browser.
type Driver struct {
	browser Browser
	cfg     Config
}

func NewDriver(b Browser, cfg Config) *Driver {
	return &Driver{browser: b, cfg: cfg.withDefaults()}
}

// Open starts an isolated session. The caller must Close it.
func (d *Driver) Open(ctx context.Context, emit Emitter) (*Session, error) {
	page, err := d.browser.NewPage(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "open browser page")
	}
	if emit == nil {
		emit = func(model.EventType, map[string]any) {}
	}
	return &Session{page: page, cfg: d.cfg, emit: emit}, nil
}

// Session owns one page for exactly one company.
type Session struct {
	page    Page
	cfg     Config
	emit    Emitter
	visited []*formfill.Snapshot
	form    *formfill.Form
}

// Discovery is what the discovering stage found.
type Discovery struct {
	Form    *formfill.Form
	PageURL string
	// Emails is filled only when no qualifying form exists anywhere.
	Emails []string
}

// SubmitResult describes the page after submission.
type SubmitResult struct {
	Acknowledged  bool
	SuccessPhrase string
	URL           string
}

// Discover loads the website and looks for a qualifying form on the landing
// page, a linked contact page, then the conventional contact paths. Without a
// form it falls back to harvesting addresses from every visited page.
func (s *Session) Discover(ctx context.Context, websiteURL string) (*Discovery, error) {
	target := normalizeURL(websiteURL)
	snap, err := s.visit(ctx, target)
	if err != nil {
		return nil, err
	}
	if d := s.qualify(snap); d != nil {
		return d, nil
	}

	if link, ok := snap.ContactLink(); ok {
		s.emit(model.EventLog, map[string]any{"action": "contact_page", "url": link, "source": "link"})
		if next, err := s.tryVisit(ctx, link); err != nil {
			return nil, err
		} else if next != nil {
			if d := s.qualify(next); d != nil {
				return d, nil
			}
		}
	}

	for _, guess := range guesses(snap.URL, target) {
		if s.seen(guess) {
			continue
		}
		s.emit(model.EventLog, map[string]any{"action": "contact_page", "url": guess, "source": "guess"})
		next, err := s.tryVisit(ctx, guess)
		if err != nil {
			return nil, err
		}
		if next == nil {
			continue
		}
		if d := s.qualify(next); d != nil {
			return d, nil
		}
	}

	var found []string
	for _, v := range s.visited {
		found = append(found, v.Emails...)
	}
	emails := formfill.ExtractEmails("", found, s.cfg.MaxEmails)
	s.emit(model.EventLog, map[string]any{"action": "emails_extracted", "count": len(emails), "emails": emails})
	return &Discovery{PageURL: s.page.URL(), Emails: emails}, nil
}

// Fill writes resolved values into the discovered form and returns how many
// elements were written.
func (s *Session) Fill(ctx context.Context, r formfill.Resolver) (int, error) {
	if s.form == nil {
		return 0, eris.New("fill called without a discovered form")
	}
	filled := 0
	for _, c := range formfill.ClassifyForm(*s.form) {
		el := c.Element
		s.emit(model.EventLog, map[string]any{"action": "field_classified", "field": fieldName(el), "role": string(c.Role)})

		action := r.Resolve(el, c.Role)
		var err error
		switch action.Kind {
		case formfill.ActionFill:
			err = s.page.Fill(ctx, el.Selector(), action.Value)
		case formfill.ActionSelect:
			err = s.page.Select(ctx, el.Selector(), action.Value)
		case formfill.ActionCheck:
			err = s.page.Check(ctx, el.Selector())
		default:
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return filled, ctx.Err()
			}
			zap.L().Debug("field write failed", zap.String("field", fieldName(el)), zap.Error(err))
			s.emit(model.EventError, map[string]any{"action": "field_filled", "field": fieldName(el), "error": err.Error()})
			continue
		}
		filled++
		s.emit(model.EventLog, map[string]any{"action": "field_filled", "field": fieldName(el), "role": string(c.Role), "kind": string(action.Kind)})
	}
	if filled == 0 {
		return 0, eris.New("no form field could be written")
	}
	return filled, nil
}

// Submit submits the filled form and inspects the resulting page.
func (s *Session) Submit(ctx context.Context) (*SubmitResult, error) {
	if s.form == nil {
		return nil, eris.New("submit called without a discovered form")
	}
	s.emit(model.EventLog, map[string]any{"action": "submit_attempted", "form": s.form.Selector()})
	if err := s.page.Submit(ctx, *s.form); err != nil {
		return nil, eris.Wrap(err, "submit form")
	}
	s.settle(ctx)

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	// no error and no challenge after submit counts as acknowledged
	res := &SubmitResult{URL: snap.URL, Acknowledged: true}
	text := strings.ToLower(snap.Text)
	for _, phrase := range successPhrases {
		if strings.Contains(text, phrase) {
			res.SuccessPhrase = phrase
			break
		}
	}
	return res, nil
}

// Screenshot captures the current viewport for the audit trail.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	shot, err := s.page.Screenshot(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "capture screenshot")
	}
	s.emit(model.EventLog, map[string]any{"action": "screenshot", "bytes": len(shot)})
	return shot, nil
}

func (s *Session) Close() error {
	return s.page.Close()
}

func (s *Session) visit(ctx context.Context, target string) (*formfill.Snapshot, error) {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	err := s.page.Navigate(navCtx, target)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, eris.Wrapf(err, "navigate to %s", target)
	}
	s.emit(model.EventLog, map[string]any{"action": "navigate", "url": target})
	s.settle(ctx)

	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.dismissConsent(ctx, snap)
	return snap, nil
}

// tryVisit is visit for optional pages: a failed navigation yields nil, only
// cancellation and captchas are errors.
func (s *Session) tryVisit(ctx context.Context, target string) (*formfill.Snapshot, error) {
	snap, err := s.visit(ctx, target)
	if err == nil {
		return snap, nil
	}
	var captcha *CaptchaError
	if ctx.Err() != nil || errors.As(err, &captcha) {
		return nil, err
	}
	s.emit(model.EventLog, map[string]any{"action": "navigate", "url": target, "error": err.Error()})
	return nil, nil
}

func (s *Session) snapshot(ctx context.Context) (*formfill.Snapshot, error) {
	if err := s.page.Eval(ctx, formfill.TagScript); err != nil {
		return nil, eris.Wrap(err, "tag page elements")
	}
	raw, err := s.page.HTML(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "read page html")
	}
	snap, err := formfill.ParseSnapshot(s.page.URL(), strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	s.visited = append(s.visited, snap)

	s.emit(model.EventLog, map[string]any{"action": "captcha_check", "url": snap.URL, "detected": snap.Captcha != ""})
	if snap.Captcha != "" {
		return snap, &CaptchaError{Marker: snap.Captcha, URL: snap.URL}
	}
	return snap, nil
}

func (s *Session) settle(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.SettleTimeout)
	defer cancel()
	if err := s.page.WaitSettle(waitCtx); err != nil {
		zap.L().Debug("page did not settle", zap.String("url", s.page.URL()), zap.Error(err))
	}
}

func (s *Session) dismissConsent(ctx context.Context, snap *formfill.Snapshot) {
	for _, c := range snap.Clickables {
		if len(c.Text) > 40 || !consentButtonPattern.MatchString(c.Text) {
			continue
		}
		if err := s.page.Click(ctx, c.Selector); err != nil {
			zap.L().Debug("consent dismissal failed", zap.String("selector", c.Selector), zap.Error(err))
			return
		}
		s.emit(model.EventLog, map[string]any{"action": "consent_dismissed", "text": c.Text})
		return
	}
}

func (s *Session) qualify(snap *formfill.Snapshot) *Discovery {
	form, ok := snap.QualifyingForm(s.cfg.MinFormFields)
	if !ok {
		return nil
	}
	s.form = &form
	s.emit(model.EventLog, map[string]any{"action": "form_found", "url": snap.URL, "fields": form.FieldCount()})
	return &Discovery{Form: &form, PageURL: snap.URL}
}

func (s *Session) seen(u string) bool {
	for _, v := range s.visited {
		if strings.TrimSuffix(v.URL, "/") == strings.TrimSuffix(u, "/") {
			return true
		}
	}
	return false
}

func guesses(current, fallback string) []string {
	base, err := url.Parse(current)
	if err != nil || base.Host == "" {
		if base, err = url.Parse(fallback); err != nil {
			return nil
		}
	}
	out := make([]string, 0, len(contactPathGuesses))
	for _, p := range contactPathGuesses {
		out = append(out, (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: p}).String())
	}
	return out
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return raw
}

func fieldName(e formfill.Element) string {
	switch {
	case e.Name != "":
		return e.Name
	case e.ID != "":
		return e.ID
	}
	return e.Selector()
}
