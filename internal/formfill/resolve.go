// internal/formfill/resolve.go
package formfill

import (
	"strings"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// DefaultSubject is used when a campaign has no subject of its own.
const DefaultSubject = "Business Inquiry"

// Placeholders lists the template tokens a message may use.
var Placeholders = []string{"{company_name}", "{website_url}", "{contact_email}", "{contact_person}", "{phone}"}

// placeholderPattern words mark the first option of a select as a prompt.
var placeholderWords = []string{"choose", "select", "please", "pick", "--"}

// narrowerKeywords mark selects whose answer we cannot know, so no default is forced.
var narrowerKeywords = []string{"branch", "department", "location", "office", "store"}

// PlaceholderValues maps each template token to the company's datum.
func PlaceholderValues(c *model.Company) map[string]string {
	return map[string]string{
		"company_name":   c.Name,
		"website_url":    c.WebsiteURL,
		"contact_email":  c.ContactEmail,
		"contact_person": c.ContactPerson,
		"phone":          c.Phone,
	}
}

var stripTokens = func() *strings.Replacer {
	pairs := make([]string, 0, 2*len(Placeholders))
	for _, p := range Placeholders {
		pairs = append(pairs, p, "")
	}
	return strings.NewReplacer(pairs...)
}()

// stripAll removes known placeholders until none remain. Removing one token
// can join the text around it into another, so a single pass is not enough.
func stripAll(s string) string {
	for {
		next := stripTokens.Replace(s)
		if next == s {
			return s
		}
		s = next
	}
}

// RenderTemplate replaces every {key} token in template with data[key] in a
// single pass. Substituted values are never expanded, and any known
// placeholder that values and template text form together is removed.
func RenderTemplate(template string, data map[string]string) string {
	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", stripAll(v))
	}
	return stripAll(strings.NewReplacer(pairs...).Replace(template))
}

// RenderMessage resolves a message template for one company.
func RenderMessage(template string, c *model.Company) string {
	return RenderTemplate(template, PlaceholderValues(c))
}

type ActionKind string

const (
	ActionFill   ActionKind = "fill"
	ActionSelect ActionKind = "select"
	ActionCheck  ActionKind = "check"
	ActionSkip   ActionKind = "skip"
)

// Action is what the driver should do to one element.
type Action struct {
	Kind  ActionKind
	Value string
}

// Resolver turns a classified element into the value written into it.
type Resolver struct {
	Sender   model.SenderProfile
	Company  *model.Company
	Template string
	Subject  string
}

func NewResolver(campaign *model.Campaign, company *model.Company) Resolver {
	return Resolver{
		Sender:   campaign.Sender,
		Company:  company,
		Template: campaign.MessageTemplate,
		Subject:  campaign.Subject,
	}
}

// Value resolves the text for role: sender profile first, company record second.
func (r Resolver) Value(role Role) string {
	c := r.Company
	switch role {
	case RoleEmail:
		return firstNonEmpty(r.Sender.Email, c.ContactEmail)
	case RoleFirstName:
		return firstNonEmpty(r.Sender.FirstName, c.ContactFirstName())
	case RoleLastName:
		return firstNonEmpty(r.Sender.LastName, c.ContactLastName())
	case RoleFullName:
		return firstNonEmpty(r.Sender.FullName(), c.ContactPerson)
	case RoleCompany:
		return firstNonEmpty(r.Sender.Company, c.Name)
	case RolePhone:
		return firstNonEmpty(r.Sender.Phone, c.Phone)
	case RoleSubject:
		subject := strings.TrimSpace(r.Subject)
		if subject == "" {
			subject = DefaultSubject
		}
		return RenderMessage(subject, c)
	case RoleCountry:
		return strings.TrimSpace(r.Sender.Country)
	case RoleMessage:
		return RenderMessage(r.Template, c)
	}
	return ""
}

// Resolve decides the action for one classified element.
func (r Resolver) Resolve(e Element, role Role) Action {
	if role == RoleConsent {
		if e.Checked {
			return Action{Kind: ActionSkip}
		}
		return Action{Kind: ActionCheck}
	}
	if e.IsCheckbox() {
		return Action{Kind: ActionSkip}
	}

	if e.IsSelect() {
		return r.resolveSelect(e, role)
	}

	if role == RoleUnknown {
		return Action{Kind: ActionSkip}
	}
	v := r.Value(role)
	if v == "" {
		return Action{Kind: ActionSkip}
	}
	return Action{Kind: ActionFill, Value: v}
}

func (r Resolver) resolveSelect(e Element, role Role) Action {
	switch role {
	case RoleCountry:
		if opt, ok := MatchCountryOption(e.Options, r.Sender.Country); ok {
			return Action{Kind: ActionSelect, Value: opt.Value}
		}
		return Action{Kind: ActionSkip}
	case RoleUnknown:
	default:
		if opt, ok := matchOption(e.Options, r.Value(role)); ok {
			return Action{Kind: ActionSelect, Value: opt.Value}
		}
	}
	if opt, ok := DefaultOption(e); ok {
		return Action{Kind: ActionSelect, Value: opt.Value}
	}
	return Action{Kind: ActionSkip}
}

// DefaultOption picks the first concrete option of a select nothing else
// could resolve, skipping a prompt-like first option. A select whose text
// names something narrower, like a branch, gets no default.
func DefaultOption(e Element) (Option, bool) {
	blob := e.Blob()
	for _, k := range narrowerKeywords {
		if strings.Contains(blob, k) {
			return Option{}, false
		}
	}
	opts := e.Options
	if len(opts) > 0 && isPromptOption(opts[0]) {
		opts = opts[1:]
	}
	for _, o := range opts {
		if strings.TrimSpace(o.Value) != "" {
			return o, true
		}
	}
	return Option{}, false
}

func isPromptOption(o Option) bool {
	if strings.TrimSpace(o.Value) == "" {
		return true
	}
	text := strings.ToLower(o.Text)
	if strings.TrimSpace(text) == "" || strings.TrimSpace(text) == "*" {
		return true
	}
	for _, w := range placeholderWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func matchOption(opts []Option, want string) (Option, bool) {
	want = normalize(want)
	if want == "" {
		return Option{}, false
	}
	for _, o := range opts {
		if normalize(o.Text) == want || normalize(o.Value) == want {
			return o, true
		}
	}
	return Option{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
