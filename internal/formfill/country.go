package formfill

import "strings"

// countryAliases groups the spellings a select may use for one country.
// The first entry is the official name.
var countryAliases = [][]string{
	{"united states", "united states of america", "usa", "us", "america"},
	{"united kingdom", "uk", "gb", "great britain", "britain", "england", "united kingdom of great britain and northern ireland"},
	{"united arab emirates", "uae", "ae"},
	{"south africa", "za", "rsa", "republic of south africa"},
	{"germany", "de", "deutschland"},
	{"france", "fr"},
	{"spain", "es", "españa", "espana"},
	{"netherlands", "nl", "holland"},
	{"canada", "ca"},
	{"australia", "au"},
	{"new zealand", "nz"},
	{"ireland", "ie", "republic of ireland"},
	{"india", "in"},
	{"nigeria", "ng"},
	{"kenya", "ke"},
	{"brazil", "br", "brasil"},
	{"mexico", "mx", "méxico"},
	{"italy", "it", "italia"},
	{"portugal", "pt"},
	{"switzerland", "ch"},
	{"sweden", "se"},
	{"singapore", "sg"},
	{"japan", "jp"},
	{"china", "cn", "people's republic of china"},
	{"south korea", "kr", "korea", "republic of korea"},
}

var aliasIndex = func() map[string][]string {
	idx := make(map[string][]string)
	for _, group := range countryAliases {
		for _, name := range group {
			idx[normalizeCountry(name)] = group
		}
	}
	return idx
}()

func normalizeCountry(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, ".", ""))
	s = collapseSpace(s)
	return strings.TrimPrefix(s, "the ")
}

// CountryForms returns every accepted spelling of country, normalized.
func CountryForms(country string) []string {
	key := normalizeCountry(country)
	if key == "" {
		return nil
	}
	group, ok := aliasIndex[key]
	if !ok {
		return []string{key}
	}
	forms := make([]string, 0, len(group))
	for _, g := range group {
		forms = append(forms, normalizeCountry(g))
	}
	return forms
}

// MatchCountryOption finds the option whose visible text or value names the
// sender's country, case-insensitively and across common alternate forms.
func MatchCountryOption(opts []Option, country string) (Option, bool) {
	forms := CountryForms(country)
	if len(forms) == 0 {
		return Option{}, false
	}
	accept := make(map[string]struct{}, len(forms))
	for _, f := range forms {
		accept[f] = struct{}{}
	}
	for _, o := range opts {
		if _, ok := accept[normalizeCountry(o.Text)]; ok {
			return o, true
		}
		if _, ok := accept[normalizeCountry(o.Value)]; ok {
			return o, true
		}
	}
	return Option{}, false
}
