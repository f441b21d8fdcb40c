package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"staffport/api/internal/forms"
	"staffport/api/internal/invite"
	"staffport/api/internal/search"
	"staffport/api/internal/store"
	"staffport/api/internal/util"
)

// ---------------------------------------------------------------------------
// Employees

func (s *Service) ListEmployees(ctx context.Context) ([]store.Employee, error) {
	return s.store.ListEmployees(ctx)
}

func (s *Service) GetEmployee(ctx context.Context, id string) (store.Employee, error) {
	employee, err := s.store.GetEmployee(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Employee{}, notFound("Employee not found")
	}
	return employee, err
}

type EmployeeInput struct {
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	WorkEmail string     `json:"workEmail"`
	Phone     string     `json:"phone"`
	Title     string     `json:"title"`
	StartDate *time.Time `json:"startDate"`
}

func (in EmployeeInput) validate() error {
	details := map[string]any{}
	if strings.TrimSpace(in.FirstName) == "" {
		details["firstName"] = "required"
	}
	if strings.TrimSpace(in.LastName) == "" {
		details["lastName"] = "required"
	}
	if !validEmail(in.Email) {
		details["email"] = "must be a valid email address"
	}
	if in.WorkEmail != "" && !validEmail(in.WorkEmail) {
		details["workEmail"] = "must be a valid email address"
	}
	if len(details) > 0 {
		return validationError("Invalid employee", details)
	}
	return nil
}

func (s *Service) CreateEmployee(ctx context.Context, input EmployeeInput) (store.Employee, error) {
	if err := input.validate(); err != nil {
		return store.Employee{}, err
	}
	now := time.Now()
	employee := store.Employee{
		ID:        util.NewID("emp"),
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Email:     strings.TrimSpace(input.Email),
		WorkEmail: strings.TrimSpace(input.WorkEmail),
		Phone:     strings.TrimSpace(input.Phone),
		Title:     strings.TrimSpace(input.Title),
		Status:    "invited",
		StartDate: input.StartDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertEmployee(ctx, employee); err != nil {
		return store.Employee{}, err
	}
	s.search.IndexEmployee(employeeRecord(employee))
	return employee, nil
}

func (s *Service) UpdateEmployee(ctx context.Context, id string, input EmployeeInput) (store.Employee, error) {
	if err := input.validate(); err != nil {
		return store.Employee{}, err
	}
	employee, err := s.GetEmployee(ctx, id)
	if err != nil {
		return store.Employee{}, err
	}
	employee.FirstName = strings.TrimSpace(input.FirstName)
	employee.LastName = strings.TrimSpace(input.LastName)
	employee.Email = strings.TrimSpace(input.Email)
	employee.WorkEmail = strings.TrimSpace(input.WorkEmail)
	employee.Phone = strings.TrimSpace(input.Phone)
	employee.Title = strings.TrimSpace(input.Title)
	employee.StartDate = input.StartDate
	employee.UpdatedAt = time.Now()
	if err := s.store.UpdateEmployee(ctx, employee); err != nil {
		return store.Employee{}, err
	}
	s.search.IndexEmployee(employeeRecord(employee))
	return employee, nil
}

func (s *Service) SetEmployeeStatus(ctx context.Context, id, status string) error {
	switch status {
	case "invited", "onboarding", "active", "offboarded":
	default:
		return validationError("Unknown employee status", map[string]any{"status": status})
	}
	if err := s.store.SetEmployeeStatus(ctx, id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Employee not found")
		}
		return err
	}
	if employee, err := s.store.GetEmployee(ctx, id); err == nil {
		s.search.IndexEmployee(employeeRecord(employee))
	}
	return nil
}

func (s *Service) DeleteEmployee(ctx context.Context, id string) error {
	if err := s.store.DeleteEmployee(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Employee not found")
		}
		return err
	}
	s.dropCache(id)
	s.search.DeleteEmployee(id)
	return nil
}

func (s *Service) SearchEmployees(q search.Query) search.Response {
	return s.search.Search(q)
}

func employeeRecord(e store.Employee) search.EmployeeRecord {
	return search.RecordFromEmployee(e)
}

// ---------------------------------------------------------------------------
// Invitations

type Invitation struct {
	InviteURL string `json:"inviteUrl"`
	EmailSent bool   `json:"emailSent"`
	// Token is only populated when no mail backend is configured, so a
	// developer can complete the flow by hand.
	Token string `json:"token,omitempty"`
}

// InviteEmployee mints an invitation token for an employee. Only the token's
// SHA-256 hash is stored; the plaintext leaves the process once, inside the
// invite link.
func (s *Service) InviteEmployee(ctx context.Context, employeeID, invitedBy string) (Invitation, error) {
	if s.invites == nil {
		return Invitation{}, domainError(http.StatusServiceUnavailable, "INVITES_UNAVAILABLE", "Invitation storage is not configured", nil)
	}
	employee, err := s.GetEmployee(ctx, employeeID)
	if err != nil {
		return Invitation{}, err
	}

	token, err := newInviteToken()
	if err != nil {
		return Invitation{}, err
	}
	expiresAt := time.Now().Add(s.cfg.InviteTTL)
	data := invite.TokenData{
		EmployeeID: employee.ID,
		Email:      employee.Email,
		InvitedBy:  invitedBy,
		CreatedAt:  time.Now(),
	}
	if err := s.invites.SaveInvitation(ctx, hashToken(token), data, expiresAt); err != nil {
		return Invitation{}, err
	}

	inviteURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/onboarding/accept?token=" + token
	result := Invitation{InviteURL: inviteURL}
	if s.SMTPConfigured() {
		name := strings.TrimSpace(employee.FirstName + " " + employee.LastName)
		if err := s.mail.SendInvitationEmail(employee.Email, name, inviteURL); err != nil {
			log.Printf("invite: email to %s failed: %v", employee.Email, err)
		} else {
			result.EmailSent = true
		}
	}
	if !result.EmailSent {
		result.Token = token
	}
	return result, nil
}

// AcceptInvitation redeems an invite token, moving the employee into
// onboarding. The token is single use.
func (s *Service) AcceptInvitation(ctx context.Context, token string) (store.Employee, error) {
	if s.invites == nil {
		return store.Employee{}, domainError(http.StatusServiceUnavailable, "INVITES_UNAVAILABLE", "Invitation storage is not configured", nil)
	}
	if strings.TrimSpace(token) == "" {
		return store.Employee{}, validationError("token is required", nil)
	}
	tokenHash := hashToken(token)
	data, err := s.invites.LookupInvitation(ctx, tokenHash)
	if err != nil {
		return store.Employee{}, domainError(http.StatusUnauthorized, "INVALID_INVITATION", "Invitation not found or expired", nil)
	}
	if err := s.store.SetEmployeeStatus(ctx, data.EmployeeID, "onboarding"); err != nil {
		return store.Employee{}, err
	}
	if err := s.invites.RevokeInvitation(ctx, tokenHash); err != nil {
		log.Printf("invite: revoke for employee %s failed: %v", data.EmployeeID, err)
	}
	employee, err := s.store.GetEmployee(ctx, data.EmployeeID)
	if err != nil {
		return store.Employee{}, err
	}
	s.search.IndexEmployee(employeeRecord(employee))
	return employee, nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// Form templates

type TemplateInput struct {
	ExternalID  string                `json:"externalId"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	IsRequired  bool                  `json:"isRequired"`
	SortOrder   int                   `json:"sortOrder"`
	Signers     []TemplateSignerInput `json:"signers"`
}

type TemplateSignerInput struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Required bool   `json:"required"`
}

func (s *Service) ListTemplates(ctx context.Context) ([]store.FormTemplate, error) {
	return s.store.ListTemplates(ctx)
}

func (s *Service) CreateTemplate(ctx context.Context, input TemplateInput) (store.FormTemplate, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.FormTemplate{}, validationError("name is required", nil)
	}
	now := time.Now()
	template := store.FormTemplate{
		ID:          util.NewID("tpl"),
		ExternalID:  strings.TrimSpace(input.ExternalID),
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		IsRequired:  input.IsRequired,
		SortOrder:   input.SortOrder,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, signer := range input.Signers {
		template.Signers = append(template.Signers, store.TemplateSigner{
			ID:         util.NewID("sgn"),
			TemplateID: template.ID,
			Name:       signer.Name,
			Role:       signer.Role,
			Required:   signer.Required,
			SortOrder:  i,
		})
	}
	if err := s.store.InsertTemplate(ctx, template); err != nil {
		return store.FormTemplate{}, err
	}
	return template, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, id string, input TemplateInput) (store.FormTemplate, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.FormTemplate{}, validationError("name is required", nil)
	}
	template, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.FormTemplate{}, notFound("Template not found")
		}
		return store.FormTemplate{}, err
	}
	template.ExternalID = strings.TrimSpace(input.ExternalID)
	template.Name = strings.TrimSpace(input.Name)
	template.Description = input.Description
	template.IsRequired = input.IsRequired
	template.SortOrder = input.SortOrder
	template.UpdatedAt = time.Now()
	template.Signers = nil
	for i, signer := range input.Signers {
		template.Signers = append(template.Signers, store.TemplateSigner{
			ID:         util.NewID("sgn"),
			TemplateID: template.ID,
			Name:       signer.Name,
			Role:       signer.Role,
			Required:   signer.Required,
			SortOrder:  i,
		})
	}
	if err := s.store.UpdateTemplate(ctx, template); err != nil {
		return store.FormTemplate{}, err
	}
	return template, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Template not found")
		}
		return err
	}
	return nil
}

// SignerStates pairs a template's expected signers with a submission's actual
// signer rows, role-first with positional fallback.
func (s *Service) SignerStates(ctx context.Context, externalSubmissionID string) ([]forms.SignerMatch, error) {
	sub, err := s.store.GetSubmissionByExternalID(ctx, externalSubmissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Submission not found")
		}
		return nil, err
	}
	template, err := s.store.GetTemplate(ctx, sub.TemplateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Template not found")
		}
		return nil, err
	}
	return forms.MatchSigners(template.Signers, sub.Signers), nil
}

// ---------------------------------------------------------------------------
// Required documents

type RequiredDocumentInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	SortOrder   int    `json:"sortOrder"`
}

func (s *Service) ListRequiredDocuments(ctx context.Context) ([]store.RequiredDocument, error) {
	return s.store.ListRequiredDocuments(ctx)
}

func (s *Service) CreateRequiredDocument(ctx context.Context, input RequiredDocumentInput) (store.RequiredDocument, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.RequiredDocument{}, validationError("name is required", nil)
	}
	doc := store.RequiredDocument{
		ID:          util.NewID("req"),
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Required:    input.Required,
		SortOrder:   input.SortOrder,
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertRequiredDocument(ctx, doc); err != nil {
		return store.RequiredDocument{}, err
	}
	return doc, nil
}

func (s *Service) UpdateRequiredDocument(ctx context.Context, id string, input RequiredDocumentInput) (store.RequiredDocument, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.RequiredDocument{}, validationError("name is required", nil)
	}
	doc := store.RequiredDocument{
		ID:          id,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Required:    input.Required,
		SortOrder:   input.SortOrder,
	}
	if err := s.store.UpdateRequiredDocument(ctx, doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.RequiredDocument{}, notFound("Required document not found")
		}
		return store.RequiredDocument{}, err
	}
	return doc, nil
}

func (s *Service) DeleteRequiredDocument(ctx context.Context, id string) error {
	if err := s.store.DeleteRequiredDocument(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Required document not found")
		}
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Employee documents (object storage)

func (s *Service) UploadEmployeeDocument(ctx context.Context, employeeID, requiredDocumentID, fileName, contentType string, body io.Reader, size int64) (store.EmployeeDocument, error) {
	if s.objects == nil {
		return store.EmployeeDocument{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage is not configured", nil)
	}
	if _, err := s.GetEmployee(ctx, employeeID); err != nil {
		return store.EmployeeDocument{}, err
	}
	if strings.TrimSpace(fileName) == "" {
		return store.EmployeeDocument{}, validationError("file name is required", nil)
	}

	doc := store.EmployeeDocument{
		ID:          util.NewID("doc"),
		EmployeeID:  employeeID,
		FileName:    fileName,
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}
	if requiredDocumentID != "" {
		doc.RequiredDocumentID = &requiredDocumentID
	}
	doc.ObjectKey = "employees/" + employeeID + "/" + doc.ID + "/" + fileName

	written, err := s.objects.Upload(ctx, doc.ObjectKey, body, size, contentType)
	if err != nil {
		return store.EmployeeDocument{}, domainError(http.StatusBadGateway, "STORAGE_ERROR", "Unable to store document", nil)
	}
	doc.Size = written

	if err := s.store.InsertEmployeeDocument(ctx, doc); err != nil {
		if removeErr := s.objects.Remove(ctx, doc.ObjectKey); removeErr != nil {
			log.Printf("document upload: orphan cleanup for %s failed: %v", doc.ObjectKey, removeErr)
		}
		return store.EmployeeDocument{}, err
	}
	return doc, nil
}

func (s *Service) ListEmployeeDocuments(ctx context.Context, employeeID string) ([]store.EmployeeDocument, error) {
	if _, err := s.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return s.store.ListEmployeeDocuments(ctx, employeeID)
}

func (s *Service) EmployeeDocumentURL(ctx context.Context, documentID string) (string, error) {
	if s.objects == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document storage is not configured", nil)
	}
	doc, err := s.store.GetEmployeeDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", notFound("Document not found")
		}
		return "", err
	}
	url, err := s.objects.PresignedDownloadURL(ctx, doc.ObjectKey, doc.FileName, 15*time.Minute)
	if err != nil {
		return "", domainError(http.StatusBadGateway, "STORAGE_ERROR", "Unable to generate download link", nil)
	}
	return url, nil
}

func (s *Service) DeleteEmployeeDocument(ctx context.Context, documentID string) error {
	doc, err := s.store.GetEmployeeDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		return err
	}
	if err := s.store.DeleteEmployeeDocument(ctx, documentID); err != nil {
		return err
	}
	if s.objects != nil {
		if err := s.objects.Remove(ctx, doc.ObjectKey); err != nil {
			log.Printf("document delete: object %s removal failed: %v", doc.ObjectKey, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings

// secretFields are masked on read and, when the client echoes the mask back,
// preserved from the stored value on write.
var secretFields = map[string]struct{}{
	"apiKey":    {},
	"secretKey": {},
	"password":  {},
	"masterKey": {},
}

const maskedValue = "••••••••"

func (s *Service) GetSetting(ctx context.Context, section string) (map[string]any, error) {
	setting, err := s.store.GetSetting(ctx, section)
	if err != nil {
		return nil, err
	}
	values := map[string]any{}
	if err := json.Unmarshal([]byte(setting.Value), &values); err != nil {
		return nil, err
	}
	for key := range values {
		if _, secret := secretFields[key]; secret {
			if str, ok := values[key].(string); ok && str != "" {
				values[key] = maskedValue
			}
		}
	}
	return values, nil
}

type SettingSection struct {
	Section string         `json:"section"`
	Values  map[string]any `json:"values"`
}

func (s *Service) ListSettingSections(ctx context.Context) ([]SettingSection, error) {
	rows, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	sections := make([]SettingSection, 0, len(rows))
	for _, row := range rows {
		values, err := s.GetSetting(ctx, row.Section)
		if err != nil {
			return nil, err
		}
		sections = append(sections, SettingSection{Section: row.Section, Values: values})
	}
	return sections, nil
}

func (s *Service) UpdateSetting(ctx context.Context, section string, values map[string]any) (map[string]any, error) {
	if strings.TrimSpace(section) == "" {
		return nil, validationError("section is required", nil)
	}

	current, err := s.store.GetSetting(ctx, section)
	if err != nil {
		return nil, err
	}
	stored := map[string]any{}
	if err := json.Unmarshal([]byte(current.Value), &stored); err != nil {
		return nil, err
	}
	for key, value := range values {
		if _, secret := secretFields[key]; secret {
			if str, ok := value.(string); ok && str == maskedValue {
				continue // mask echoed back, keep the stored secret
			}
		}
		stored[key] = value
	}

	encoded, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertSetting(ctx, section, string(encoded)); err != nil {
		return nil, err
	}
	return s.GetSetting(ctx, section)
}
