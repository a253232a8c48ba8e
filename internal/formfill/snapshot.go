// internal/formfill/snapshot.go
package formfill

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

// IndexAttr is stamped on every form control by the live page before the
// snapshot is taken, so selectors built here address exactly one element.
const IndexAttr = "data-outreach-idx"

// TagScript numbers candidate elements with IndexAttr.
const TagScript = `() => {
	let i = 0;
	document.querySelectorAll('form, input, textarea, select, button, a, [role=button]').forEach((el) => {
		el.setAttribute('data-outreach-idx', String(i++));
	});
	return i;
}`

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

var imageSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

var captchaTextMarkers = []string{
	"verify you are human",
	"are you a robot",
	"checking your browser",
	"complete the security check",
}

// contactTerms match contact links in the languages the engine meets most.
var contactTerms = []string{
	"contact", "kontakt", "contato", "contatti", "contactez",
	"get in touch", "get-in-touch", "reach us", "reach-us", "reach out",
	"fale conosco", "fale-conosco", "enquir",
}

type Option struct {
	Value string
	Text  string
}

// Element is one form control as seen in a page snapshot.
type Element struct {
	Index       int
	Tag         string
	Type        string
	Name        string
	ID          string
	Placeholder string
	Label       string
	AriaLabel   string
	// Context is nearby text, used for checkboxes whose meaning lives outside
	// their own attributes.
	Context string
	Checked bool
	Options []Option
}

// Selector addresses the element on the live page.
func (e Element) Selector() string {
	return selectorFor(e.Index, e.Tag, e.ID, e.Name)
}

// Blob is the normalized text the classifier matches keywords against.
func (e Element) Blob() string {
	return normalize(strings.Join([]string{e.Name, e.ID, e.Placeholder, e.Label, e.AriaLabel, e.Type}, " "))
}

func (e Element) IsCheckbox() bool { return e.Type == "checkbox" }
func (e Element) IsSelect() bool   { return e.Tag == "select" }

// Fillable reports whether the element takes free text or a selection.
func (e Element) Fillable() bool {
	switch e.Tag {
	case "textarea", "select":
		return true
	case "input":
		switch e.Type {
		case "text", "email", "tel", "url", "number":
			return true
		}
	}
	return false
}

type Form struct {
	Index          int
	ID             string
	Action         string
	Elements       []Element
	HasPassword    bool
	SubmitSelector string
}

func (f Form) Selector() string {
	return selectorFor(f.Index, "form", f.ID, "")
}

// FieldCount is the number of fillable controls, checkboxes excluded.
func (f Form) FieldCount() int {
	n := 0
	for _, e := range f.Elements {
		if e.Fillable() {
			n++
		}
	}
	return n
}

type Link struct {
	Href string
	Text string
}

// Clickable is a button-like element outside any form.
type Clickable struct {
	Selector string
	Text     string
}

// Snapshot is everything the driver needs to know about one loaded page.
type Snapshot struct {
	URL        string
	Title      string
	Text       string
	Forms      []Form
	Links      []Link
	Clickables []Clickable
	Emails     []string
	// Captcha names the first anti-automation marker found, empty if none.
	Captcha string
}

// ParseSnapshot walks the page DOM once, collecting forms, links, buttons,
// visible text and email addresses.
func ParseSnapshot(pageURL string, r io.Reader) (*Snapshot, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse page url %q", pageURL)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, eris.Wrap(err, "parse page html")
	}

	p := &snapshotParser{
		base:     base,
		labelFor: make(map[string]string),
		snap:     &Snapshot{URL: pageURL},
	}
	p.collectLabels(doc)
	p.walk(doc, nil, "")

	p.snap.Text = collapseSpace(p.text.String())
	p.snap.Emails = ExtractEmails(p.snap.Text, p.mailtos, 0)
	if p.snap.Captcha == "" {
		lower := strings.ToLower(p.snap.Text)
		for _, m := range captchaTextMarkers {
			if strings.Contains(lower, m) {
				p.snap.Captcha = m
				break
			}
		}
	}
	return p.snap, nil
}

type snapshotParser struct {
	base     *url.URL
	labelFor map[string]string
	snap     *Snapshot
	text     strings.Builder
	mailtos  []string
}

func (p *snapshotParser) collectLabels(n *html.Node) {
	if n.Type == html.ElementNode && n.Data == "label" {
		if id := getAttr(n, "for"); id != "" {
			p.labelFor[id] = textOf(n)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.collectLabels(c)
	}
}

// walk visits n with the enclosing form (if any) and enclosing label text.
func (p *snapshotParser) walk(n *html.Node, form *Form, label string) {
	switch n.Type {
	case html.TextNode:
		p.text.WriteString(n.Data)
		p.text.WriteString(" ")
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template", "head", "svg":
			if n.Data == "head" {
				p.readTitle(n)
			}
			return
		case "label":
			label = textOf(n)
		case "form":
			f := Form{
				Index:  indexOf(n),
				ID:     getAttr(n, "id"),
				Action: p.resolve(getAttr(n, "action")),
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				p.walk(c, &f, label)
			}
			p.snap.Forms = append(p.snap.Forms, f)
			return
		case "input", "textarea", "select":
			p.element(n, form, label)
		case "button":
			p.button(n, form)
		case "a":
			p.anchor(n)
		case "iframe":
			p.markCaptcha(strings.ToLower(getAttr(n, "src")), "recaptcha", "hcaptcha", "challenges.cloudflare.com")
		}
		p.markCaptcha(strings.ToLower(getAttr(n, "class")+" "+getAttr(n, "id")), "g-recaptcha", "h-captcha", "cf-turnstile", "captcha")
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c, form, label)
	}
}

func (p *snapshotParser) readTitle(head *html.Node) {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "title" {
			p.snap.Title = strings.TrimSpace(textOf(c))
		}
	}
}

func (p *snapshotParser) markCaptcha(haystack string, markers ...string) {
	if p.snap.Captcha != "" || haystack == "" {
		return
	}
	// the invisible v3 badge never challenges
	if strings.Contains(haystack, "grecaptcha-badge") {
		return
	}
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			p.snap.Captcha = m
			return
		}
	}
}

func (p *snapshotParser) element(n *html.Node, form *Form, label string) {
	typ := strings.ToLower(strings.TrimSpace(getAttr(n, "type")))
	switch n.Data {
	case "textarea":
		typ = "textarea"
	case "select":
		typ = "select"
	default:
		if typ == "" {
			typ = "text"
		}
	}

	if typ == "password" && form != nil {
		form.HasPassword = true
	}
	if typ == "submit" || typ == "image" {
		if form != nil && form.SubmitSelector == "" {
			form.SubmitSelector = selectorFor(indexOf(n), "input", getAttr(n, "id"), getAttr(n, "name"))
		}
		return
	}
	if form == nil || concealed(n) {
		return
	}

	e := Element{
		Index:       indexOf(n),
		Tag:         n.Data,
		Type:        typ,
		Name:        getAttr(n, "name"),
		ID:          getAttr(n, "id"),
		Placeholder: getAttr(n, "placeholder"),
		AriaLabel:   getAttr(n, "aria-label"),
		Checked:     hasAttr(n, "checked"),
	}
	if l, ok := p.labelFor[e.ID]; ok && e.ID != "" {
		e.Label = l
	} else {
		e.Label = label
	}
	if !e.Fillable() && !e.IsCheckbox() {
		return
	}
	if e.IsCheckbox() && n.Parent != nil {
		e.Context = truncate(textOf(n.Parent), 300)
	}
	if e.IsSelect() {
		e.Options = options(n)
	}
	form.Elements = append(form.Elements, e)
}

func (p *snapshotParser) button(n *html.Node, form *Form) {
	typ := strings.ToLower(getAttr(n, "type"))
	sel := selectorFor(indexOf(n), "button", getAttr(n, "id"), getAttr(n, "name"))
	if form != nil {
		if (typ == "" || typ == "submit") && form.SubmitSelector == "" {
			form.SubmitSelector = sel
		}
		return
	}
	if text := collapseSpace(textOf(n)); text != "" && sel != "" {
		p.snap.Clickables = append(p.snap.Clickables, Clickable{Selector: sel, Text: text})
	}
}

func (p *snapshotParser) anchor(n *html.Node) {
	href := strings.TrimSpace(getAttr(n, "href"))
	text := collapseSpace(textOf(n))
	if strings.HasPrefix(strings.ToLower(href), "mailto:") {
		addr := strings.SplitN(href[len("mailto:"):], "?", 2)[0]
		p.mailtos = append(p.mailtos, addr)
		return
	}
	if getAttr(n, "role") == "button" && text != "" {
		if sel := selectorFor(indexOf(n), "a", getAttr(n, "id"), ""); sel != "" {
			p.snap.Clickables = append(p.snap.Clickables, Clickable{Selector: sel, Text: text})
		}
	}
	if resolved := p.resolve(href); resolved != "" {
		p.snap.Links = append(p.snap.Links, Link{Href: resolved, Text: text})
	}
}

func (p *snapshotParser) resolve(href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := p.base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

// QualifyingForm returns the form with the most classified fields among the
// forms that have at least minFields fillable controls and no password input.
func (s *Snapshot) QualifyingForm(minFields int) (Form, bool) {
	var best Form
	bestScore := -1
	for _, f := range s.Forms {
		if f.HasPassword || f.FieldCount() < minFields {
			continue
		}
		score := 0
		for _, e := range f.Elements {
			if Classify(e) != RoleUnknown {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = f, score
		}
	}
	return best, bestScore >= 0
}

// ContactLink returns the first link whose text or address names a contact page.
func (s *Snapshot) ContactLink() (string, bool) {
	for _, l := range s.Links {
		if l.Href == s.URL {
			continue
		}
		hay := strings.ToLower(l.Text + " " + l.Href)
		for _, term := range contactTerms {
			if strings.Contains(hay, term) {
				return l.Href, true
			}
		}
	}
	return "", false
}

// ExtractEmails finds addresses in text plus explicit mailto targets, lowercased,
// deduplicated in first-seen order. max <= 0 means no cap.
func ExtractEmails(text string, extra []string, max int) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	add := func(candidate string) bool {
		addr := strings.ToLower(strings.Trim(strings.TrimSpace(candidate), ".,;:"))
		if addr == "" || !emailPattern.MatchString(addr) {
			return true
		}
		for _, suffix := range imageSuffixes {
			if strings.HasSuffix(addr, suffix) {
				return true
			}
		}
		if _, ok := seen[addr]; ok {
			return true
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
		return max <= 0 || len(out) < max
	}
	for _, m := range extra {
		if !add(m) {
			return out
		}
	}
	for _, m := range emailPattern.FindAllString(text, -1) {
		if !add(m) {
			return out
		}
	}
	return out
}

func selectorFor(index int, tag, id, name string) string {
	switch {
	case index >= 0:
		return fmt.Sprintf(`[%s="%d"]`, IndexAttr, index)
	case id != "" && cssIdent.MatchString(id):
		return "#" + id
	case name != "":
		return fmt.Sprintf(`%s[name=%q]`, tag, name)
	case tag == "form":
		return "form"
	}
	return ""
}

var cssIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]*$`)

func indexOf(n *html.Node) int {
	v, ok := lookupAttr(n, IndexAttr)
	if !ok {
		return -1
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return i
}

// concealed catches honeypot fields hidden from people but not from bots.
func concealed(n *html.Node) bool {
	if getAttr(n, "aria-hidden") == "true" || hasAttr(n, "disabled") || hasAttr(n, "hidden") {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(getAttr(n, "style")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func options(sel *html.Node) []Option {
	var out []Option
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "option" {
			text := collapseSpace(textOf(n))
			value, ok := lookupAttr(n, "value")
			if !ok {
				value = text
			}
			out = append(out, Option{Value: value, Text: text})
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel)
	return out
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := lookupAttr(n, key)
	return ok
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapseSpace(b.String())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
