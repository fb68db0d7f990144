package jurisdiction

import "strings"

// federalIndustryAliases maps common spellings onto catalog codes. Lookups that
// miss here fall through to the normalized code itself.
var federalIndustryAliases = map[string]string{
	"AUTOMOTIVE":           "AUTOMOTRIZ",
	"AUTOPARTES":           "AUTOMOTRIZ",
	"QUIMICA_FARMACEUTICA": "QUIMICA",
	"FARMACEUTICA":         "QUIMICA",
	"PAPEL":                "CELULOSA_PAPEL",
	"SIDERURGICA":          "METALURGICA",
	"PETROLEO":             "HIDROCARBUROS",
	"BANCA":                "BANCA_CREDITO",
	"BANCARIA":             "BANCA_CREDITO",
}

// canonicalIndustryCode folds a free-text industry code to its catalog form.
func canonicalIndustryCode(code string) string {
	c := normalizeCode(code)
	if alias, ok := federalIndustryAliases[c]; ok {
		return alias
	}
	return c
}

// findIndustry returns the active catalog entry for code, if any.
func findIndustry(catalog []Industry, code string) *Industry {
	want := canonicalIndustryCode(code)
	if want == "" {
		return nil
	}
	for i := range catalog {
		if !catalog[i].Active {
			continue
		}
		if strings.EqualFold(canonicalIndustryCode(catalog[i].Code), want) {
			ind := catalog[i]
			return &ind
		}
	}
	return nil
}
