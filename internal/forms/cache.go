package forms

import (
	"sync"
	"time"

	"staffport/api/internal/store"
)

// Patch is a partial update applied to a cached submission row. Zero-value
// fields are left untouched.
type Patch struct {
	Status      string
	ExternalID  string
	SentAt      *time.Time
	OpenedAt    *time.Time
	CompletedAt *time.Time
}

// Cache holds the submission rows for one employee view. All reads return
// copies; all writes replace the snapshot wholesale, so callers never observe
// a half-applied patch.
//
// Every write bumps an internal version. A bulk reconcile must present the
// version its source snapshot was taken at and is rejected when any write
// landed in between. That closes the window where a slow watcher response
// could overwrite a fresher full refresh.
type Cache struct {
	mu      sync.Mutex
	version uint64
	rows    []store.FormSubmission
}

func NewCache() *Cache {
	return &Cache{}
}

// Snapshot returns a copy of the cached rows and the version they correspond to.
func (c *Cache) Snapshot() ([]store.FormSubmission, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRows(c.rows), c.version
}

// Version returns the current write version.
func (c *Cache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Update merges a patch into the row with the given local ID. When
// signerEmail is non-empty and the row carries signers, the matching signer's
// status and timestamps are patched as well; other signers stay untouched.
// An unknown ID leaves the cache unchanged and returns false.
func (c *Cache) Update(localID int64, patch Patch, signerEmail string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i := range c.rows {
		if c.rows[i].ID == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	next := cloneRows(c.rows)
	applyPatch(&next[idx], patch, signerEmail)
	c.rows = next
	c.version++
	return true
}

// Upsert records a submission after a successful send: it replaces an
// existing row with the same ID, else the first row with the same template ID
// (the server upserts per template), else prepends a new row.
func (c *Cache) Upsert(sub store.FormSubmission) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := cloneRows(c.rows)
	for i := range next {
		if next[i].ID == sub.ID {
			next[i] = sub
			c.rows = next
			c.version++
			return
		}
	}
	for i := range next {
		if next[i].TemplateID == sub.TemplateID {
			next[i] = sub
			c.rows = next
			c.version++
			return
		}
	}
	c.rows = append([]store.FormSubmission{sub}, next...)
	c.version++
}

// Reconcile replaces the cached rows with a freshly fetched list. basedOn is
// the version returned by the Snapshot the fetch was issued against; if any
// write has landed since, the stale list is rejected and the method returns
// false.
func (c *Cache) Reconcile(rows []store.FormSubmission, basedOn uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.version != basedOn {
		return false
	}
	c.rows = cloneRows(rows)
	c.version++
	return true
}

func applyPatch(row *store.FormSubmission, patch Patch, signerEmail string) {
	if patch.Status != "" {
		row.Status = patch.Status
	}
	if patch.ExternalID != "" {
		row.ExternalID = patch.ExternalID
	}
	if patch.SentAt != nil {
		row.SentAt = patch.SentAt
	}
	if patch.OpenedAt != nil {
		row.OpenedAt = patch.OpenedAt
	}
	if patch.CompletedAt != nil {
		row.CompletedAt = patch.CompletedAt
	}

	if signerEmail == "" || len(row.Signers) == 0 {
		return
	}
	for i := range row.Signers {
		if row.Signers[i].Email != signerEmail {
			continue
		}
		if patch.Status != "" {
			row.Signers[i].Status = patch.Status
		}
		if patch.SentAt != nil {
			row.Signers[i].SentAt = patch.SentAt
		}
		if patch.OpenedAt != nil {
			row.Signers[i].OpenedAt = patch.OpenedAt
		}
		if patch.CompletedAt != nil {
			row.Signers[i].CompletedAt = patch.CompletedAt
		}
		return
	}
}

func cloneRows(rows []store.FormSubmission) []store.FormSubmission {
	out := make([]store.FormSubmission, len(rows))
	copy(out, rows)
	for i := range out {
		if len(out[i].Signers) > 0 {
			signers := make([]store.SubmissionSigner, len(out[i].Signers))
			copy(signers, out[i].Signers)
			out[i].Signers = signers
		}
	}
	return out
}
