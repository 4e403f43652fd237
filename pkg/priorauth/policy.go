package priorauth

import (
	"strings"
	"unicode"
)

/*
Criterion is one piece of clinical evidence a policy demands before a
treatment is authorized.  Keywords are matched against the lowercased
request text; short keywords match whole tokens only so "pt" does not
fire inside unrelated words.
*/
type Criterion struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

/*
Policy is an abstracted coverage policy: a title, the treatment names it
governs, and the indication criteria that must all be evidenced for
approval.
*/
type Policy struct {
	ID         string      `json:"id"`
	Title      string      `json:"policyTitle"`
	Treatments []string    `json:"treatments"`
	Criteria   []Criterion `json:"indications"`
}

// Matches reports whether the request text mentions one of the policy's
// treatments.
func (policy Policy) Matches(text string) bool {
	text = strings.ToLower(text)

	for _, treatment := range policy.Treatments {
		if matchesKeyword(text, treatment) {
			return true
		}
	}

	return false
}

// Evaluate returns the ids of criteria evidenced by the text.
func (policy Policy) Evaluate(text string) []string {
	text = strings.ToLower(text)
	var satisfied []string

	for _, criterion := range policy.Criteria {
		for _, keyword := range criterion.Keywords {
			if matchesKeyword(text, keyword) {
				satisfied = append(satisfied, criterion.ID)
				break
			}
		}
	}

	return satisfied
}

// Missing returns the criteria not present in the satisfied id set, in
// policy order.
func (policy Policy) Missing(satisfied map[string]bool) []Criterion {
	var missing []Criterion

	for _, criterion := range policy.Criteria {
		if !satisfied[criterion.ID] {
			missing = append(missing, criterion)
		}
	}

	return missing
}

/*
DefaultPolicies returns the built-in policy set: an advanced imaging
policy for low back pain with the three standard indication criteria.
*/
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:         "advanced-imaging-low-back-pain",
			Title:      "Advanced Imaging for Low Back Pain",
			Treatments: []string{"mri", "ct scan", "advanced imaging", "imaging study"},
			Criteria: []Criterion{
				{
					ID:   "symptom-duration",
					Name: "duration of symptoms (six weeks or more)",
					Keywords: []string{
						"week", "weeks", "month", "months", "chronic", "duration",
					},
				},
				{
					ID:   "conservative-treatment",
					Name: "failed conservative treatment",
					Keywords: []string{
						"physical therapy", "pt", "nsaid", "nsaids",
						"conservative", "chiropractic", "failed treatment",
					},
				},
				{
					ID:   "red-flags",
					Name: "red flag evaluation",
					Keywords: []string{
						"red flag", "red flags", "neurologic deficit", "weakness",
						"numbness", "bowel", "bladder", "fever", "trauma", "weight loss",
					},
				},
			},
		},
	}
}

func matchesKeyword(text string, keyword string) bool {
	keyword = strings.ToLower(keyword)

	if strings.ContainsRune(keyword, ' ') || len(keyword) > 4 {
		return strings.Contains(text, keyword)
	}

	for _, token := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if token == keyword {
			return true
		}
	}

	return false
}
