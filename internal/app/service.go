package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"staffport/api/internal/config"
	"staffport/api/internal/email"
	"staffport/api/internal/esign"
	"staffport/api/internal/forms"
	"staffport/api/internal/invite"
	"staffport/api/internal/search"
	"staffport/api/internal/storage"
	"staffport/api/internal/store"
)

type dataStore interface {
	ListEmployees(context.Context) ([]store.Employee, error)
	GetEmployee(context.Context, string) (store.Employee, error)
	InsertEmployee(context.Context, store.Employee) error
	UpdateEmployee(context.Context, store.Employee) error
	SetEmployeeStatus(context.Context, string, string) error
	DeleteEmployee(context.Context, string) error
	ListTemplates(context.Context) ([]store.FormTemplate, error)
	GetTemplate(context.Context, string) (store.FormTemplate, error)
	InsertTemplate(context.Context, store.FormTemplate) error
	UpdateTemplate(context.Context, store.FormTemplate) error
	DeleteTemplate(context.Context, string) error
	ListSubmissionsByEmployee(context.Context, string) ([]store.FormSubmission, error)
	GetSubmission(context.Context, int64) (store.FormSubmission, error)
	GetSubmissionByExternalID(context.Context, string) (store.FormSubmission, error)
	InsertSubmission(context.Context, store.FormSubmission) (int64, error)
	ApplySubmissionStatus(context.Context, int64, string, *time.Time, *time.Time, *time.Time) error
	ApplySignerStatus(context.Context, int64, string, string, *time.Time, *time.Time, *time.Time) error
	ListRequiredDocuments(context.Context) ([]store.RequiredDocument, error)
	InsertRequiredDocument(context.Context, store.RequiredDocument) error
	UpdateRequiredDocument(context.Context, store.RequiredDocument) error
	DeleteRequiredDocument(context.Context, string) error
	InsertEmployeeDocument(context.Context, store.EmployeeDocument) error
	ListEmployeeDocuments(context.Context, string) ([]store.EmployeeDocument, error)
	GetEmployeeDocument(context.Context, string) (store.EmployeeDocument, error)
	DeleteEmployeeDocument(context.Context, string) error
	GetSetting(context.Context, string) (store.Setting, error)
	UpsertSetting(context.Context, string, string) error
	ListSettings(context.Context) ([]store.Setting, error)
	Ping(ctx context.Context) error
}

type esignClient interface {
	CreateSubmission(ctx context.Context, templateID string, signers []esign.SignerRequest) (esign.Submission, error)
	GetSubmission(ctx context.Context, submissionID string) (esign.Submission, error)
	SigningLink(ctx context.Context, submissionID, signerEmail string) (string, error)
	Remind(ctx context.Context, submissionID, signerEmail string) error
}

type mailer interface {
	IsConfigured() bool
	SendInvitationEmail(to, employeeName, inviteURL string) error
	SendSigningRequestEmail(to, signerName, templateName, senderName string) error
}

type inviteStore interface {
	SaveInvitation(ctx context.Context, tokenHash string, data invite.TokenData, expiresAt time.Time) error
	LookupInvitation(ctx context.Context, tokenHash string) (invite.TokenData, error)
	RevokeInvitation(ctx context.Context, tokenHash string) error
}

type objectStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) (int64, error)
	PresignedDownloadURL(ctx context.Context, objectKey, fileName string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, objectKey string) error
}

type directorySearch interface {
	Search(q search.Query) search.Response
	IndexEmployee(rec search.EmployeeRecord)
	DeleteEmployee(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	esign    esignClient
	mail     mailer
	invites  inviteStore
	objects  objectStore
	search   directorySearch
	watchers *forms.Registry

	cacheMu sync.Mutex
	caches  map[string]*forms.Cache
}

// New wires the service. mailService, inviteSt, and objectSt may be nil when
// the corresponding backend is not configured; the affected endpoints then
// report themselves unavailable.
func New(cfg config.Config, dataStore *store.PostgresStore, esignClient *esign.Client, searchService *search.Service, mailService *email.Service, inviteSt *invite.RedisStore, objectSt *storage.Client) *Service {
	interval := cfg.WatchInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticks := cfg.WatchTicks
	if ticks <= 0 {
		ticks = 12
	}

	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		esign:  esignClient,
		search: searchService,
		caches: make(map[string]*forms.Cache),
	}
	if mailService != nil {
		s.mail = mailService
	}
	if inviteSt != nil {
		s.invites = inviteSt
	}
	if objectSt != nil {
		s.objects = objectSt
	}
	s.watchers = forms.NewRegistry(interval, ticks, s.watcherTick)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close tears down every active status watcher.
func (s *Service) Close() {
	s.watchers.StopAll()
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// cacheFor returns the reconciliation cache for one employee, creating it on
// first use. Caches live for the life of the service and are dropped when the
// employee is deleted.
func (s *Service) cacheFor(employeeID string) *forms.Cache {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	cache, ok := s.caches[employeeID]
	if !ok {
		cache = forms.NewCache()
		s.caches[employeeID] = cache
	}
	return cache
}

func (s *Service) dropCache(employeeID string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.caches, employeeID)
}

// ---------------------------------------------------------------------------
// Required forms and submissions

func (s *Service) RequiredForms(ctx context.Context) ([]store.FormTemplate, error) {
	return s.store.ListTemplates(ctx)
}

// FormSubmissions returns the reconciled submission rows for an employee. The
// database list is folded into the employee's cache with a version guard: if
// an optimistic write landed while the list was being read, the (stale) list
// is discarded and the cache's newer view wins.
func (s *Service) FormSubmissions(ctx context.Context, employeeID string) ([]store.FormSubmission, error) {
	if _, err := s.store.GetEmployee(ctx, employeeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Employee not found")
		}
		return nil, err
	}

	cache := s.cacheFor(employeeID)
	_, version := cache.Snapshot()

	rows, err := s.store.ListSubmissionsByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	cache.Reconcile(rows, version)

	snapshot, _ := cache.Snapshot()
	return snapshot, nil
}

type SendFormInput struct {
	TemplateID  string `json:"templateId"`
	SignerEmail string `json:"signerEmail"`
	SignerRole  string `json:"signerRole"`
	SignerName  string `json:"signerName"`
}

// SendForm validates the signer email, creates a submission at the provider,
// records the new row, and applies the optimistic cache write. No local state
// changes when the provider call fails.
func (s *Service) SendForm(ctx context.Context, employeeID string, input SendFormInput) (store.FormSubmission, error) {
	if strings.TrimSpace(input.TemplateID) == "" {
		return store.FormSubmission{}, validationError("templateId is required", nil)
	}

	template, err := s.store.GetTemplate(ctx, input.TemplateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.FormSubmission{}, notFound("Template not found")
		}
		return store.FormSubmission{}, err
	}

	employee, err := s.store.GetEmployee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.FormSubmission{}, notFound("Employee not found")
		}
		return store.FormSubmission{}, err
	}

	signerEmail := resolveSignerEmail(input.SignerEmail, employee)
	if !validEmail(signerEmail) {
		return store.FormSubmission{}, validationError("a valid signer email is required", nil)
	}

	providerTemplateID := template.ExternalID
	if providerTemplateID == "" {
		providerTemplateID = template.ID
	}

	signerName := input.SignerName
	if signerName == "" {
		signerName = strings.TrimSpace(employee.FirstName + " " + employee.LastName)
	}
	remote, err := s.esign.CreateSubmission(ctx, providerTemplateID, []esign.SignerRequest{{
		Email: signerEmail,
		Role:  input.SignerRole,
		Name:  signerName,
	}})
	if err != nil {
		return store.FormSubmission{}, mapESignError(err, "Unable to send form")
	}

	now := time.Now()
	row := store.FormSubmission{
		TemplateID:  template.ID,
		ExternalID:  strconv.FormatInt(remote.ID, 10),
		EmployeeID:  employeeID,
		SignerEmail: signerEmail,
		Status:      forms.StatusSent,
		SentAt:      &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, submitter := range remote.Submitters {
		row.Signers = append(row.Signers, store.SubmissionSigner{
			Email:  submitter.Email,
			Role:   submitter.Role,
			Status: forms.StatusSent,
			SentAt: &now,
		})
	}
	if len(row.Signers) == 0 {
		row.Signers = []store.SubmissionSigner{{
			Email:  signerEmail,
			Role:   input.SignerRole,
			Status: forms.StatusSent,
			SentAt: &now,
		}}
	}

	id, err := s.store.InsertSubmission(ctx, row)
	if err != nil {
		return store.FormSubmission{}, err
	}
	row.ID = id
	for i := range row.Signers {
		row.Signers[i].SubmissionID = id
	}

	s.cacheFor(employeeID).Upsert(row)

	if s.SMTPConfigured() {
		if err := s.mail.SendSigningRequestEmail(signerEmail, signerName, template.Name, s.cfg.SMTPFromName); err != nil {
			log.Printf("send form: notification email to %s failed: %v", signerEmail, err)
		}
	}

	return row, nil
}

type SigningInfo struct {
	SigningURL   string `json:"signingUrl"`
	SubmissionID string `json:"submissionId"`
	SignerEmail  string `json:"signerEmail"`
}

// SigningURL fetches the one-time signing link for a signer, marks the
// submission opened, and starts the bounded status watcher for it.
func (s *Service) SigningURL(ctx context.Context, externalSubmissionID, signerEmail string) (SigningInfo, error) {
	sub, err := s.store.GetSubmissionByExternalID(ctx, externalSubmissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SigningInfo{}, notFound("Submission not found")
		}
		return SigningInfo{}, err
	}

	if signerEmail == "" {
		signerEmail = sub.SignerEmail
	}
	if !validEmail(signerEmail) {
		return SigningInfo{}, validationError("a valid signer email is required", nil)
	}

	url, err := s.esign.SigningLink(ctx, externalSubmissionID, signerEmail)
	if err != nil {
		return SigningInfo{}, mapESignError(err, "Unable to fetch signing link")
	}

	now := time.Now()
	if forms.Rank(forms.StatusOpened) > forms.Rank(sub.Status) {
		if err := s.store.ApplySubmissionStatus(ctx, sub.ID, forms.StatusOpened, nil, &now, nil); err != nil {
			return SigningInfo{}, err
		}
	}
	if err := s.store.ApplySignerStatus(ctx, sub.ID, signerEmail, forms.StatusOpened, nil, &now, nil); err != nil {
		return SigningInfo{}, err
	}

	s.cacheFor(sub.EmployeeID).Update(sub.ID, forms.Patch{
		Status:   forms.StatusOpened,
		OpenedAt: &now,
	}, signerEmail)

	s.watchers.Start(sub.ID)

	return SigningInfo{
		SigningURL:   url,
		SubmissionID: externalSubmissionID,
		SignerEmail:  signerEmail,
	}, nil
}

// Remind asks the provider to nudge one signer. Fire-and-forget from the
// caller's perspective; nothing local changes.
func (s *Service) Remind(ctx context.Context, externalSubmissionID, signerEmail string) error {
	if !validEmail(signerEmail) {
		return validationError("a valid signer email is required", nil)
	}
	if _, err := s.store.GetSubmissionByExternalID(ctx, externalSubmissionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Submission not found")
		}
		return err
	}
	if err := s.esign.Remind(ctx, externalSubmissionID, signerEmail); err != nil {
		return mapESignError(err, "Unable to send reminder")
	}
	return nil
}

// RefreshSubmissionStatus asks the provider for the submission's current
// state and folds it into the database and cache. Status never regresses:
// a provider report ranked below what we already recorded is ignored.
func (s *Service) RefreshSubmissionStatus(ctx context.Context, localID int64) error {
	sub, err := s.store.GetSubmission(ctx, localID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Submission not found")
		}
		return err
	}
	if sub.ExternalID == "" {
		return domainError(http.StatusConflict, "NO_EXTERNAL_SUBMISSION", "Submission was never sent to the provider", nil)
	}

	remote, err := s.esign.GetSubmission(ctx, sub.ExternalID)
	if err != nil {
		return mapESignError(err, "Unable to refresh submission status")
	}

	status := normalizeProviderStatus(remote.Status, remote.Submitters)
	if forms.Rank(status) >= forms.Rank(sub.Status) {
		if err := s.store.ApplySubmissionStatus(ctx, sub.ID, status, nil, nil, remote.CompletedAt); err != nil {
			return err
		}
	}
	for _, submitter := range remote.Submitters {
		signerStatus := normalizeProviderStatus(submitter.Status, nil)
		if err := s.store.ApplySignerStatus(ctx, sub.ID, submitter.Email, signerStatus,
			submitter.SentAt, submitter.OpenedAt, submitter.CompletedAt); err != nil {
			return err
		}
	}

	return s.refreshCache(ctx, sub.EmployeeID)
}

// refreshCache reloads an employee's rows from the database into the cache.
// The version guard keeps a racing optimistic write from being clobbered.
func (s *Service) refreshCache(ctx context.Context, employeeID string) error {
	cache := s.cacheFor(employeeID)
	_, version := cache.Snapshot()
	rows, err := s.store.ListSubmissionsByEmployee(ctx, employeeID)
	if err != nil {
		return err
	}
	cache.Reconcile(rows, version)
	return nil
}

// watcherTick is the per-tick refresh for one watched submission. Failures
// are logged and otherwise swallowed; the watcher keeps its schedule.
func (s *Service) watcherTick(ctx context.Context, submissionID int64) {
	tickCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if err := s.RefreshSubmissionStatus(tickCtx, submissionID); err != nil {
		log.Printf("watcher: refresh submission %d: %v", submissionID, err)
	}
}

// normalizeProviderStatus maps provider status vocabulary onto ours. The
// provider reports "awaiting"/"pending" for not-yet-complete submissions; if
// any submitter has progressed we take the furthest submitter state.
func normalizeProviderStatus(status string, submitters []esign.Submitter) string {
	switch status {
	case forms.StatusCompleted, forms.StatusOpened, forms.StatusSent, forms.StatusPending:
		// provider vocabulary matches ours
	default:
		status = forms.StatusPending
	}
	best := status
	for _, submitter := range submitters {
		if forms.Rank(submitter.Status) > forms.Rank(best) {
			best = submitter.Status
		}
	}
	return best
}

func mapESignError(err error, fallback string) error {
	var apiErr *esign.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = fallback
		}
		return domainError(http.StatusBadGateway, "ESIGN_ERROR", message, nil)
	}
	return domainError(http.StatusBadGateway, "ESIGN_ERROR", fallback, nil)
}

// resolveSignerEmail picks the signer address: an explicitly supplied one
// wins, then the employee's work address, then their contact address.
func resolveSignerEmail(explicit string, employee store.Employee) string {
	if strings.TrimSpace(explicit) != "" {
		return strings.TrimSpace(explicit)
	}
	if employee.WorkEmail != "" {
		return employee.WorkEmail
	}
	return employee.Email
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && strings.Contains(email, "@")
}
