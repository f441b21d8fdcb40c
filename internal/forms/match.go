package forms

import "staffport/api/internal/store"

// MatchesTemplate reports whether a submission row belongs to the template.
// Rows created by this service carry the local template ID; rows reconciled
// from the provider may carry the provider's template ID instead, so both are
// accepted.
func MatchesTemplate(tpl store.FormTemplate, sub store.FormSubmission) bool {
	if sub.TemplateID == "" {
		return false
	}
	if sub.TemplateID == tpl.ID {
		return true
	}
	return tpl.ExternalID != "" && sub.TemplateID == tpl.ExternalID
}

// PickLatestSubmission selects the authoritative submission for a template:
// highest status rank wins, ties broken by newest CreatedAt. A tie on both
// keeps the earlier entry from the source list. Returns nil when no
// submission matches.
func PickLatestSubmission(tpl store.FormTemplate, subs []store.FormSubmission) *store.FormSubmission {
	var best *store.FormSubmission
	for i := range subs {
		sub := &subs[i]
		if !MatchesTemplate(tpl, *sub) {
			continue
		}
		if best == nil {
			best = sub
			continue
		}
		switch {
		case Rank(sub.Status) > Rank(best.Status):
			best = sub
		case Rank(sub.Status) == Rank(best.Status) && sub.CreatedAt.After(best.CreatedAt):
			best = sub
		}
	}
	return best
}
