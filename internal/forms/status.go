// Package forms implements the e-signature submission reconciliation flow:
// matching submissions to templates, deriving display status, the guarded
// in-memory submission cache, and the bounded per-submission status watcher.
package forms

import "staffport/api/internal/store"

// Provider-reported submission statuses.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusOpened    = "opened"
	StatusCompleted = "completed"
)

// Display statuses exposed to clients. Raw provider status is not trusted
// blindly: a "pending" row with no sent_at is a stale placeholder, not a
// submission that is actually pending at the provider.
const (
	DisplayNotSent   = "not_sent"
	DisplayPending   = "pending"
	DisplaySent      = "sent"
	DisplayOpened    = "opened"
	DisplayCompleted = "completed"
)

// Rank orders statuses for latest-submission selection and for the
// monotonic non-decrease guard. Unknown statuses rank lowest.
func Rank(status string) int {
	switch status {
	case StatusCompleted:
		return 3
	case StatusOpened:
		return 2
	case StatusSent:
		return 1
	default:
		return 0
	}
}

// DisplayStatus maps a submission row to its display status. A nil row means
// the template was never sent.
func DisplayStatus(sub *store.FormSubmission) string {
	if sub == nil {
		return DisplayNotSent
	}
	return resolve(sub.Status, sub.SentAt != nil)
}

// SignerDisplayStatus maps one signer's status, with the same pending
// downgrade rule as the submission aggregate.
func SignerDisplayStatus(signer *store.SubmissionSigner) string {
	if signer == nil {
		return DisplayNotSent
	}
	return resolve(signer.Status, signer.SentAt != nil)
}

func resolve(status string, sent bool) string {
	switch status {
	case StatusCompleted, StatusOpened, StatusSent:
		return status
	case StatusPending:
		if sent {
			return DisplayPending
		}
		return DisplayNotSent
	default:
		return DisplayNotSent
	}
}
