// Package browsertest provides an in-memory browser that serves static HTML,
// for exercising the driver and the job pipeline without Chrome.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/unclebandit/outreach-engine/internal/browser"
	"github.com/unclebandit/outreach-engine/internal/formfill"
)

const notFoundHTML = `<html><head><title>Not Found</title></head><body><h1>404</h1></body></html>`

// Site is the behaviour of one host.
type Site struct {
	// Pages maps absolute URLs to their HTML.
	Pages map[string]string
	// AfterSubmit is served once the form is submitted.
	AfterSubmit string
	SubmitErr   error
	// PanicOnSubmit simulates a crash inside the browser layer.
	PanicOnSubmit bool
	// Hang makes every navigation block until its context ends.
	Hang bool
	// Redirect maps a URL to the URL the page actually lands on.
	Redirect map[string]string
}

// Browser is a fake browser.Browser keyed by host.
type Browser struct {
	mu    sync.Mutex
	sites map[string]*Site
	pages []*Page
	// NewPageErr, when set, fails every NewPage call.
	NewPageErr error
}

func NewBrowser() *Browser {
	return &Browser{sites: make(map[string]*Site)}
}

// AddSite registers a site under the host of rawURL.
func (b *Browser) AddSite(rawURL string, site *Site) {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sites[u.Host] = site
}

func (b *Browser) site(host string) *Site {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sites[host]
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	p := &Page{browser: b, Values: make(map[string]string)}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *Browser) Close() error { return nil }

// Pages returns every page opened so far.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// OpenPages counts pages that were never closed.
func (b *Browser) OpenPages() int {
	n := 0
	for _, p := range b.Pages() {
		if !p.Closed() {
			n++
		}
	}
	return n
}

// Page records every interaction the driver performs.
type Page struct {
	browser *Browser

	mu        sync.Mutex
	url       string
	html      string
	closed    bool
	Values    map[string]string
	Checked   []string
	Clicked   []string
	Submitted []string
	Visited   []string
}

func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	site := p.browser.site(u.Host)
	if site == nil {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", rawURL)
	}
	if site.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if to, ok := site.Redirect[rawURL]; ok {
		rawURL = to
	}
	html, ok := lookup(site.Pages, rawURL)
	if !ok {
		html = notFoundHTML
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = rawURL
	p.html = html
	p.Visited = append(p.Visited, rawURL)
	return nil
}

func lookup(pages map[string]string, rawURL string) (string, bool) {
	if html, ok := pages[rawURL]; ok {
		return html, true
	}
	if strings.HasSuffix(rawURL, "/") {
		html, ok := pages[strings.TrimSuffix(rawURL, "/")]
		return html, ok
	}
	html, ok := pages[rawURL+"/"]
	return html, ok
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Eval(ctx context.Context, js string) error { return ctx.Err() }

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clicked = append(p.Clicked, selector)
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if selector == "" {
		return errors.New("empty selector")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Values[selector] = value
	return nil
}

func (p *Page) Select(ctx context.Context, selector, value string) error {
	return p.Fill(ctx, selector, value)
}

func (p *Page) Check(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Checked = append(p.Checked, selector)
	return nil
}

func (p *Page) Submit(ctx context.Context, form formfill.Form) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, _ := url.Parse(p.URL())
	site := p.browser.site(u.Host)
	if site != nil && site.PanicOnSubmit {
		panic("renderer crashed during submit")
	}
	if site != nil && site.SubmitErr != nil {
		return site.SubmitErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Submitted = append(p.Submitted, form.Selector())
	if site != nil && site.AfterSubmit != "" {
		p.html = site.AfterSubmit
	}
	return nil
}

func (p *Page) WaitSettle(ctx context.Context) error { return ctx.Err() }

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
