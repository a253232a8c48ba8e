// internal/formfill/classify.go
package formfill

import (
	"strings"
)

// Role is the semantic meaning assigned to one form element.
type Role string

const (
	RoleEmail     Role = "email"
	RoleFirstName Role = "first_name"
	RoleLastName  Role = "last_name"
	RoleFullName  Role = "full_name"
	RoleCompany   Role = "company"
	RolePhone     Role = "phone"
	RoleSubject   Role = "subject"
	RoleCountry   Role = "country"
	RoleMessage   Role = "message"
	RoleConsent   Role = "consent_checkbox"
	RoleUnknown   Role = "unknown"
)

// keywordSet matches when the blob contains any term as a substring or any
// word as a whole token, and contains none of the excludes.
type keywordSet struct {
	role     Role
	terms    []string
	words    []string
	excludes []string
}

func (k keywordSet) match(blob string, tokens map[string]struct{}) bool {
	for _, ex := range k.excludes {
		if strings.Contains(blob, ex) {
			return false
		}
	}
	for _, t := range k.terms {
		if strings.Contains(blob, t) {
			return true
		}
	}
	for _, w := range k.words {
		if _, ok := tokens[w]; ok {
			return true
		}
	}
	return false
}

// rolePriority is evaluated top to bottom; the first match wins.
var rolePriority = []keywordSet{
	{
		role:  RoleEmail,
		terms: []string{"email", "e-mail", "e_mail", "correo", "courriel"},
		words: []string{"mail"},
	},
	{
		role: RoleFirstName,
		terms: []string{"firstname", "first name", "first_name", "first-name", "given name",
			"given-name", "givenname", "forename", "vorname", "prenom", "prénom"},
		words: []string{"fname"},
	},
	{
		role: RoleLastName,
		terms: []string{"lastname", "last name", "last_name", "last-name", "surname",
			"family name", "family-name", "familyname", "nachname", "apellido"},
		words: []string{"lname"},
	},
	{
		role: RoleFullName,
		terms: []string{"fullname", "full name", "full_name", "full-name", "your name",
			"your-name", "your_name", "yourname", "contact name", "nombre", "naam"},
		words:    []string{"name", "nom", "nome"},
		excludes: []string{"company", "business", "organi", "user", "file", "domain"},
	},
	{
		role: RoleCompany,
		terms: []string{"company", "organization", "organisation", "business", "employer",
			"empresa", "société", "bedrijf", "unternehmen"},
		words: []string{"firm", "org"},
	},
	{
		role:  RolePhone,
		terms: []string{"phone", "telephone", "mobile", "telefon", "teléfono", "whatsapp"},
		words: []string{"tel", "cell"},
	},
	{
		role:  RoleSubject,
		terms: []string{"subject", "topic", "regarding", "betreff", "asunto", "assunto", "sujet"},
	},
	{
		role:  RoleCountry,
		terms: []string{"country", "nation", "país", "pays"},
	},
	{
		role: RoleMessage,
		terms: []string{"message", "comment", "enquiry", "inquiry", "question", "details",
			"how can we help", "textarea", "nachricht", "mensaje", "mensagem", "bericht"},
		words: []string{"body", "msg"},
	},
}

var consentTerms = []string{"enquiry", "sales", "support", "agree", "consent", "optin", "opt-in", "marketing", "newsletter"}

// legalTerms are never ticked automatically, whatever else the context says.
var legalTerms = []string{"terms", "conditions"}

// Classify assigns at most one role to e. Elements no keyword set matches are
// RoleUnknown and stay untouched.
func Classify(e Element) Role {
	if e.IsCheckbox() {
		return classifyCheckbox(e)
	}
	if !e.Fillable() {
		return RoleUnknown
	}
	blob := e.Blob()
	tokens := tokenize(blob)
	for _, set := range rolePriority {
		if set.match(blob, tokens) {
			return set.role
		}
	}
	return RoleUnknown
}

func classifyCheckbox(e Element) Role {
	ctx := normalize(strings.Join([]string{e.Name, e.ID, e.Label, e.AriaLabel, e.Context}, " "))
	for _, t := range legalTerms {
		if strings.Contains(ctx, t) {
			return RoleUnknown
		}
	}
	for _, t := range consentTerms {
		if strings.Contains(ctx, t) {
			return RoleConsent
		}
	}
	return RoleUnknown
}

// Classified pairs an element with the role it was assigned.
type Classified struct {
	Element Element
	Role    Role
}

// ClassifyForm classifies every element of f in document order.
func ClassifyForm(f Form) []Classified {
	out := make([]Classified, 0, len(f.Elements))
	for _, e := range f.Elements {
		out = append(out, Classified{Element: e, Role: Classify(e)})
	}
	return out
}

func normalize(s string) string {
	return collapseSpace(strings.ToLower(s))
}

func tokenize(blob string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range strings.FieldsFunc(blob, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		tokens[t] = struct{}{}
	}
	return tokens
}
