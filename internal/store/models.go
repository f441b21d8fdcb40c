package store

import "time"

type Employee struct {
	ID        string     `json:"id"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	WorkEmail string     `json:"workEmail"`
	Phone     string     `json:"phone"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"startDate"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// FormTemplate is a configured signable document definition. ExternalID is the
// template's identifier at the e-signature provider.
type FormTemplate struct {
	ID          string           `json:"id"`
	ExternalID  string           `json:"externalId"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	IsRequired  bool             `json:"isRequired"`
	SortOrder   int              `json:"sortOrder"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	Signers     []TemplateSigner `json:"signers"`
}

// TemplateSigner is an expected signing party on a template, identified by role.
type TemplateSigner struct {
	ID         string `json:"id"`
	TemplateID string `json:"templateId"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Required   bool   `json:"required"`
	SortOrder  int    `json:"sortOrder"`
}

// FormSubmission is one instance of a template sent out for signature.
// TemplateID may carry either the local template ID or the provider's template
// ID depending on which side created the row; callers match on both.
type FormSubmission struct {
	ID          int64              `json:"id"`
	TemplateID  string             `json:"templateId"`
	ExternalID  string             `json:"externalId"`
	EmployeeID  string             `json:"employeeId"`
	SignerEmail string             `json:"signerEmail"`
	Status      string             `json:"status"`
	SentAt      *time.Time         `json:"sentAt"`
	OpenedAt    *time.Time         `json:"openedAt"`
	CompletedAt *time.Time         `json:"completedAt"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	Signers     []SubmissionSigner `json:"signers"`
}

// SubmissionSigner is the per-signer status projection within a submission.
type SubmissionSigner struct {
	ID           int64      `json:"id"`
	SubmissionID int64      `json:"submissionId"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sentAt"`
	OpenedAt     *time.Time `json:"openedAt"`
	CompletedAt  *time.Time `json:"completedAt"`
}

// RequiredDocument is an admin-configured document type every employee must upload.
type RequiredDocument struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	SortOrder   int       `json:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EmployeeDocument is an uploaded file stored in object storage under ObjectKey.
type EmployeeDocument struct {
	ID                 string    `json:"id"`
	EmployeeID         string    `json:"employeeId"`
	RequiredDocumentID *string   `json:"requiredDocumentId"`
	FileName           string    `json:"fileName"`
	ObjectKey          string    `json:"-"`
	ContentType        string    `json:"contentType"`
	Size               int64     `json:"size"`
	UploadedAt         time.Time `json:"uploadedAt"`
}

// Setting is a named JSON settings blob for the admin console
// (sections: "storage", "email", "esign").
type Setting struct {
	Section   string    `json:"section"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}
