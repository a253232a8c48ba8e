package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/formfill"
)

// defaultStableWindow is how long the DOM must stay quiet to count as settled.
const defaultStableWindow = 800 * time.Millisecond

type RodConfig struct {
	Headless       bool
	Bin            string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// RodBrowser is a Browser backed by one Chrome process. Every page gets its
// own incognito context, so cookies never leak between companies.
type RodBrowser struct {
	mu      sync.Mutex
	browser *rod.Browser
	cfg     RodConfig
}

func NewRodBrowser(cfg RodConfig) (*RodBrowser, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "launch chrome")
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, eris.Wrap(err, "connect to chrome")
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1366
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 900
	}
	return &RodBrowser{browser: b, cfg: cfg}, nil
}

func (b *RodBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil, eris.New("browser closed")
	}

	incognito, err := b.browser.Incognito()
	if err != nil {
		return nil, eris.Wrap(err, "incognito context")
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, eris.Wrap(err, "create page")
	}

	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			zap.L().Warn("failed to set user agent", zap.Error(err))
		}
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.ViewportWidth,
		Height:            b.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		zap.L().Warn("failed to set viewport", zap.Error(err))
	}

	return &rodPage{page: page, incognito: incognito}, nil
}

func (b *RodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

type rodPage struct {
	page      *rod.Page
	incognito *rod.Browser
	lastURL   string
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	p.lastURL = url
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return err
	}
	return p.page.Context(ctx).WaitLoad()
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil || info.URL == "" {
		return p.lastURL
	}
	return info.URL
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Eval(ctx context.Context, js string) error {
	_, err := p.page.Context(ctx).Eval(js)
	return err
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return eris.Wrapf(err, "element %s", selector)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// setValue writes through the DOM and fires the events frameworks listen for.
const setValue = `(v) => {
	this.focus();
	this.value = v;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return eris.Wrapf(err, "element %s", selector)
	}
	_, err = el.Eval(setValue, value)
	return err
}

func (p *rodPage) Select(ctx context.Context, selector, value string) error {
	return p.Fill(ctx, selector, value)
}

func (p *rodPage) Check(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return eris.Wrapf(err, "element %s", selector)
	}
	_, err = el.Eval(`() => {
		if (!this.checked) { this.click(); }
		if (!this.checked) {
			this.checked = true;
			this.dispatchEvent(new Event('change', { bubbles: true }));
		}
	}`)
	return err
}

func (p *rodPage) Submit(ctx context.Context, form formfill.Form) error {
	if form.SubmitSelector != "" {
		if err := p.Click(ctx, form.SubmitSelector); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return err
		}
	}
	el, err := p.page.Context(ctx).Element(form.Selector())
	if err != nil {
		return eris.Wrapf(err, "form %s", form.Selector())
	}
	_, err = el.Eval(`() => this.requestSubmit ? this.requestSubmit() : this.submit()`)
	return err
}

func (p *rodPage) WaitSettle(ctx context.Context) error {
	return p.page.Context(ctx).WaitStable(defaultStableWindow)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, nil)
}

func (p *rodPage) Close() error {
	err := p.page.Close()
	if cerr := p.incognito.Close(); err == nil {
		err = cerr
	}
	return err
}
