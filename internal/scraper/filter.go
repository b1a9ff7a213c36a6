package scraper

import (
	"strings"

	"jobinsight/discovery-service/internal/model"
)

// Excluded reports whether any exclusion term appears, case-insensitively, in
// the posting's title or skills.
func Excluded(p model.RawPosting, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	combined := strings.ToLower(p.Title + " " + strings.Join(p.Skills, " "))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func dropExcluded(postings []model.RawPosting, terms []string) ([]model.RawPosting, int) {
	if len(terms) == 0 {
		return postings, 0
	}
	kept := postings[:0:0]
	for _, p := range postings {
		if !Excluded(p, terms) {
			kept = append(kept, p)
		}
	}
	return kept, len(postings) - len(kept)
}
