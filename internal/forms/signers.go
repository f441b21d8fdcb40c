package forms

import (
	"strings"

	"staffport/api/internal/store"
)

// SignerMatch pairs a template signer with its counterpart on a submission.
// Matched is false when the submission has no signer for that role or
// position; callers must check it rather than assume a counterpart exists.
type SignerMatch struct {
	Template   store.TemplateSigner
	Submission *store.SubmissionSigner
	Matched    bool
}

// MatchSigners reconciles the signers a template expects with the signers a
// submission actually carries. Roles are matched first, case-insensitively;
// template signers still unmatched fall back to the submission signer at the
// same position, provided a role match has not already claimed it.
func MatchSigners(expected []store.TemplateSigner, actual []store.SubmissionSigner) []SignerMatch {
	matches := make([]SignerMatch, len(expected))
	claimed := make([]bool, len(actual))

	for i, tpl := range expected {
		matches[i] = SignerMatch{Template: tpl}
		for j := range actual {
			if claimed[j] {
				continue
			}
			if strings.EqualFold(tpl.Role, actual[j].Role) {
				matches[i].Submission = &actual[j]
				matches[i].Matched = true
				claimed[j] = true
				break
			}
		}
	}

	for i := range matches {
		if matches[i].Matched {
			continue
		}
		if i < len(actual) && !claimed[i] {
			matches[i].Submission = &actual[i]
			matches[i].Matched = true
			claimed[i] = true
		}
	}

	return matches
}
