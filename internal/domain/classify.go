package domain

import "strings"

// Document kinds derived from file names.
const (
	KindEmploymentContract = "employment_contract"
	KindHRHandbook         = "hr_handbook"
	KindIncrementPolicy    = "increment_policy"
	KindOther              = "other"
)

var kindKeywords = []struct {
	kind     string
	keywords []string
}{
	{KindEmploymentContract, []string{"contract"}},
	{KindHRHandbook, []string{"handbook", "hr_policy"}},
	{KindIncrementPolicy, []string{"increment", "probation"}},
}

// ClassifyDocument tags a document from its display name. The first matching
// rule wins.
func ClassifyDocument(name string) string {
	lower := strings.ToLower(name)
	for _, rule := range kindKeywords {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.kind
			}
		}
	}
	return KindOther
}
