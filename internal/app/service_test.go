package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"staffport/api/internal/config"
	"staffport/api/internal/esign"
	"staffport/api/internal/forms"
	"staffport/api/internal/search"
	"staffport/api/internal/store"
)

type fakeStore struct {
	getEmployeeFn               func(context.Context, string) (store.Employee, error)
	getTemplateFn               func(context.Context, string) (store.FormTemplate, error)
	listSubmissionsByEmployeeFn func(context.Context, string) ([]store.FormSubmission, error)
	getSubmissionFn             func(context.Context, int64) (store.FormSubmission, error)
	getSubmissionByExternalFn   func(context.Context, string) (store.FormSubmission, error)
	insertSubmissionFn          func(context.Context, store.FormSubmission) (int64, error)
	applySubmissionStatusFn     func(context.Context, int64, string, *time.Time, *time.Time, *time.Time) error
	applySignerStatusFn         func(context.Context, int64, string, string, *time.Time, *time.Time, *time.Time) error
	setEmployeeStatusFn         func(context.Context, string, string) error
}

func (f *fakeStore) ListEmployees(context.Context) ([]store.Employee, error) { return nil, nil }
func (f *fakeStore) GetEmployee(ctx context.Context, id string) (store.Employee, error) {
	if f.getEmployeeFn != nil {
		return f.getEmployeeFn(ctx, id)
	}
	return store.Employee{ID: id}, nil
}
func (f *fakeStore) InsertEmployee(context.Context, store.Employee) error { return nil }
func (f *fakeStore) UpdateEmployee(context.Context, store.Employee) error { return nil }
func (f *fakeStore) SetEmployeeStatus(ctx context.Context, id, status string) error {
	if f.setEmployeeStatusFn != nil {
		return f.setEmployeeStatusFn(ctx, id, status)
	}
	return nil
}
func (f *fakeStore) DeleteEmployee(context.Context, string) error { return nil }
func (f *fakeStore) ListTemplates(context.Context) ([]store.FormTemplate, error) {
	return nil, nil
}
func (f *fakeStore) GetTemplate(ctx context.Context, id string) (store.FormTemplate, error) {
	if f.getTemplateFn != nil {
		return f.getTemplateFn(ctx, id)
	}
	return store.FormTemplate{ID: id}, nil
}
func (f *fakeStore) InsertTemplate(context.Context, store.FormTemplate) error { return nil }
func (f *fakeStore) UpdateTemplate(context.Context, store.FormTemplate) error { return nil }
func (f *fakeStore) DeleteTemplate(context.Context, string) error             { return nil }
func (f *fakeStore) ListSubmissionsByEmployee(ctx context.Context, employeeID string) ([]store.FormSubmission, error) {
	if f.listSubmissionsByEmployeeFn != nil {
		return f.listSubmissionsByEmployeeFn(ctx, employeeID)
	}
	return nil, nil
}
func (f *fakeStore) GetSubmission(ctx context.Context, id int64) (store.FormSubmission, error) {
	if f.getSubmissionFn != nil {
		return f.getSubmissionFn(ctx, id)
	}
	return store.FormSubmission{}, sql.ErrNoRows
}
func (f *fakeStore) GetSubmissionByExternalID(ctx context.Context, externalID string) (store.FormSubmission, error) {
	if f.getSubmissionByExternalFn != nil {
		return f.getSubmissionByExternalFn(ctx, externalID)
	}
	return store.FormSubmission{}, sql.ErrNoRows
}
func (f *fakeStore) InsertSubmission(ctx context.Context, item store.FormSubmission) (int64, error) {
	if f.insertSubmissionFn != nil {
		return f.insertSubmissionFn(ctx, item)
	}
	return 1, nil
}
func (f *fakeStore) ApplySubmissionStatus(ctx context.Context, id int64, status string, sentAt, openedAt, completedAt *time.Time) error {
	if f.applySubmissionStatusFn != nil {
		return f.applySubmissionStatusFn(ctx, id, status, sentAt, openedAt, completedAt)
	}
	return nil
}
func (f *fakeStore) ApplySignerStatus(ctx context.Context, id int64, email, status string, sentAt, openedAt, completedAt *time.Time) error {
	if f.applySignerStatusFn != nil {
		return f.applySignerStatusFn(ctx, id, email, status, sentAt, openedAt, completedAt)
	}
	return nil
}
func (f *fakeStore) ListRequiredDocuments(context.Context) ([]store.RequiredDocument, error) {
	return nil, nil
}
func (f *fakeStore) InsertRequiredDocument(context.Context, store.RequiredDocument) error {
	return nil
}
func (f *fakeStore) UpdateRequiredDocument(context.Context, store.RequiredDocument) error {
	return nil
}
func (f *fakeStore) DeleteRequiredDocument(context.Context, string) error { return nil }
func (f *fakeStore) InsertEmployeeDocument(context.Context, store.EmployeeDocument) error {
	return nil
}
func (f *fakeStore) ListEmployeeDocuments(context.Context, string) ([]store.EmployeeDocument, error) {
	return nil, nil
}
func (f *fakeStore) GetEmployeeDocument(context.Context, string) (store.EmployeeDocument, error) {
	return store.EmployeeDocument{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteEmployeeDocument(context.Context, string) error { return nil }
func (f *fakeStore) GetSetting(ctx context.Context, section string) (store.Setting, error) {
	return store.Setting{Section: section, Value: "{}"}, nil
}
func (f *fakeStore) UpsertSetting(context.Context, string, string) error { return nil }
func (f *fakeStore) ListSettings(context.Context) ([]store.Setting, error) {
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeESign struct {
	createSubmissionFn func(context.Context, string, []esign.SignerRequest) (esign.Submission, error)
	getSubmissionFn    func(context.Context, string) (esign.Submission, error)
	signingLinkFn      func(context.Context, string, string) (string, error)
	remindFn           func(context.Context, string, string) error
	createCalls        int
	remindCalls        int
}

func (f *fakeESign) CreateSubmission(ctx context.Context, templateID string, signers []esign.SignerRequest) (esign.Submission, error) {
	f.createCalls++
	if f.createSubmissionFn != nil {
		return f.createSubmissionFn(ctx, templateID, signers)
	}
	return esign.Submission{ID: 42}, nil
}
func (f *fakeESign) GetSubmission(ctx context.Context, submissionID string) (esign.Submission, error) {
	if f.getSubmissionFn != nil {
		return f.getSubmissionFn(ctx, submissionID)
	}
	return esign.Submission{}, nil
}
func (f *fakeESign) SigningLink(ctx context.Context, submissionID, signerEmail string) (string, error) {
	if f.signingLinkFn != nil {
		return f.signingLinkFn(ctx, submissionID, signerEmail)
	}
	return "https://esign.example.com/s/abc", nil
}
func (f *fakeESign) Remind(ctx context.Context, submissionID, signerEmail string) error {
	f.remindCalls++
	if f.remindFn != nil {
		return f.remindFn(ctx, submissionID, signerEmail)
	}
	return nil
}

type noopSearch struct{}

func (noopSearch) Search(search.Query) search.Response { return search.Response{} }
func (noopSearch) IndexEmployee(search.EmployeeRecord) {}
func (noopSearch) DeleteEmployee(string)               {}

func newTestService(st dataStore, es esignClient) *Service {
	s := &Service{
		cfg:    config.Config{SMTPFromName: "Staffport"},
		store:  st,
		esign:  es,
		search: noopSearch{},
		caches: make(map[string]*forms.Cache),
	}
	s.watchers = forms.NewRegistry(time.Hour, 12, s.watcherTick)
	return s
}

func TestSendFormRejectsMissingEmailBeforeProviderCall(t *testing.T) {
	st := &fakeStore{
		getEmployeeFn: func(context.Context, string) (store.Employee, error) {
			return store.Employee{ID: "emp_1"}, nil
		},
	}
	es := &fakeESign{}
	service := newTestService(st, es)
	defer service.Close()

	_, err := service.SendForm(context.Background(), "emp_1", SendFormInput{TemplateID: "tpl_1"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if es.createCalls != 0 {
		t.Fatalf("provider must not be called on validation failure, got %d calls", es.createCalls)
	}
}

func TestSendFormRejectsMalformedEmail(t *testing.T) {
	st := &fakeStore{
		getEmployeeFn: func(context.Context, string) (store.Employee, error) {
			return store.Employee{ID: "emp_1", Email: "not-an-email"}, nil
		},
	}
	es := &fakeESign{}
	service := newTestService(st, es)
	defer service.Close()

	_, err := service.SendForm(context.Background(), "emp_1", SendFormInput{TemplateID: "tpl_1"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if es.createCalls != 0 {
		t.Fatal("provider must not be called for a malformed email")
	}
}

func TestSendFormUsesExplicitEmailOverEmployeeEmail(t *testing.T) {
	st := &fakeStore{
		getEmployeeFn: func(context.Context, string) (store.Employee, error) {
			return store.Employee{ID: "emp_1", Email: "contact@example.com", WorkEmail: "work@example.com"}, nil
		},
	}
	var sentTo string
	es := &fakeESign{
		createSubmissionFn: func(_ context.Context, _ string, signers []esign.SignerRequest) (esign.Submission, error) {
			sentTo = signers[0].Email
			return esign.Submission{ID: 42}, nil
		},
	}
	service := newTestService(st, es)
	defer service.Close()

	row, err := service.SendForm(context.Background(), "emp_1", SendFormInput{
		TemplateID:  "tpl_1",
		SignerEmail: "explicit@example.com",
	})
	if err != nil {
		t.Fatalf("send form: %v", err)
	}
	if sentTo != "explicit@example.com" {
		t.Fatalf("expected explicit email, provider saw %q", sentTo)
	}
	if row.Status != forms.StatusSent || row.SentAt == nil {
		t.Fatalf("expected sent row with timestamp, got %+v", row)
	}
	if row.ExternalID != "42" {
		t.Fatalf("expected provider id recorded, got %q", row.ExternalID)
	}
}

func TestSendFormFallsBackToWorkEmail(t *testing.T) {
	st := &fakeStore{
		getEmployeeFn: func(context.Context, string) (store.Employee, error) {
			return store.Employee{ID: "emp_1", Email: "contact@example.com", WorkEmail: "work@example.com"}, nil
		},
	}
	var sentTo string
	es := &fakeESign{
		createSubmissionFn: func(_ context.Context, _ string, signers []esign.SignerRequest) (esign.Submission, error) {
			sentTo = signers[0].Email
			return esign.Submission{ID: 42}, nil
		},
	}
	service := newTestService(st, es)
	defer service.Close()

	if _, err := service.SendForm(context.Background(), "emp_1", SendFormInput{TemplateID: "tpl_1"}); err != nil {
		t.Fatalf("send form: %v", err)
	}
	if sentTo != "work@example.com" {
		t.Fatalf("expected work email fallback, provider saw %q", sentTo)
	}
}

func TestSendFormProviderFailureLeavesStateUntouched(t *testing.T) {
	inserted := false
	st := &fakeStore{
		insertSubmissionFn: func(context.Context, store.FormSubmission) (int64, error) {
			inserted = true
			return 0, nil
		},
	}
	es := &fakeESign{
		createSubmissionFn: func(context.Context, string, []esign.SignerRequest) (esign.Submission, error) {
			return esign.Submission{}, &esign.APIError{Status: 422, Message: "template is archived"}
		},
	}
	service := newTestService(st, es)
	defer service.Close()

	_, err := service.SendForm(context.Background(), "emp_1", SendFormInput{
		TemplateID:  "tpl_1",
		SignerEmail: "new.hire@example.com",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Message != "template is archived" {
		t.Fatalf("expected provider message surfaced, got %q", domainErr.Message)
	}
	if inserted {
		t.Fatal("no row must be written when the provider call fails")
	}
	rows, _ := service.cacheFor("emp_1").Snapshot()
	if len(rows) != 0 {
		t.Fatal("cache must stay empty when the provider call fails")
	}
}

func TestSendFormUpsertsCache(t *testing.T) {
	st := &fakeStore{}
	es := &fakeESign{}
	service := newTestService(st, es)
	defer service.Close()

	_, err := service.SendForm(context.Background(), "emp_1", SendFormInput{
		TemplateID:  "tpl_1",
		SignerEmail: "new.hire@example.com",
	})
	if err != nil {
		t.Fatalf("send form: %v", err)
	}
	rows, _ := service.cacheFor("emp_1").Snapshot()
	if len(rows) != 1 || rows[0].Status != forms.StatusSent {
		t.Fatalf("expected one sent row in cache, got %+v", rows)
	}
}

func TestFormSubmissionsReconcilesFromStore(t *testing.T) {
	st := &fakeStore{
		listSubmissionsByEmployeeFn: func(context.Context, string) ([]store.FormSubmission, error) {
			return []store.FormSubmission{
				{ID: 1, TemplateID: "tpl_1", Status: forms.StatusCompleted},
				{ID: 2, TemplateID: "tpl_2", Status: forms.StatusSent},
			}, nil
		},
	}
	service := newTestService(st, &fakeESign{})
	defer service.Close()

	rows, err := service.FormSubmissions(context.Background(), "emp_1")
	if err != nil {
		t.Fatalf("form submissions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestFormSubmissionsKeepsOptimisticWriteOverStaleList(t *testing.T) {
	// The optimistic write lands while the database list is in flight; the
	// list is then stale and must lose to the in-cache status.
	var service *Service
	st := &fakeStore{
		listSubmissionsByEmployeeFn: func(context.Context, string) ([]store.FormSubmission, error) {
			service.cacheFor("emp_1").Update(1, forms.Patch{Status: forms.StatusCompleted}, "")
			return []store.FormSubmission{{ID: 1, Status: forms.StatusSent}}, nil
		},
	}
	service = newTestService(st, &fakeESign{})
	defer service.Close()

	service.cacheFor("emp_1").Reconcile([]store.FormSubmission{{ID: 1, Status: forms.StatusSent}}, 0)

	rows, err := service.FormSubmissions(context.Background(), "emp_1")
	if err != nil {
		t.Fatalf("form submissions: %v", err)
	}
	if rows[0].Status != forms.StatusCompleted {
		t.Fatalf("optimistic write lost: got status %q", rows[0].Status)
	}
}

func TestFormSubmissionsUnknownEmployee(t *testing.T) {
	st := &fakeStore{
		getEmployeeFn: func(context.Context, string) (store.Employee, error) {
			return store.Employee{}, sql.ErrNoRows
		},
	}
	service := newTestService(st, &fakeESign{})
	defer service.Close()

	_, err := service.FormSubmissions(context.Background(), "ghost")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestSigningURLMarksOpenedAndStartsWatcher(t *testing.T) {
	var appliedStatus string
	st := &fakeStore{
		getSubmissionByExternalFn: func(context.Context, string) (store.FormSubmission, error) {
			return store.FormSubmission{ID: 7, ExternalID: "900", EmployeeID: "emp_1",
				SignerEmail: "new.hire@example.com", Status: forms.StatusSent}, nil
		},
		applySubmissionStatusFn: func(_ context.Context, _ int64, status string, _, _, _ *time.Time) error {
			appliedStatus = status
			return nil
		},
	}
	service := newTestService(st, &fakeESign{})
	defer service.Close()

	info, err := service.SigningURL(context.Background(), "900", "")
	if err != nil {
		t.Fatalf("signing url: %v", err)
	}
	if info.SigningURL == "" {
		t.Fatal("expected signing url")
	}
	if info.SignerEmail != "new.hire@example.com" {
		t.Fatalf("expected stored signer email, got %q", info.SignerEmail)
	}
	if appliedStatus != forms.StatusOpened {
		t.Fatalf("expected opened status applied, got %q", appliedStatus)
	}
	if !service.watchers.Watching(7) {
		t.Fatal("expected watcher started for submission 7")
	}
}

func TestSigningURLDoesNotDowngradeCompleted(t *testing.T) {
	applied := false
	st := &fakeStore{
		getSubmissionByExternalFn: func(context.Context, string) (store.FormSubmission, error) {
			return store.FormSubmission{ID: 7, ExternalID: "900", EmployeeID: "emp_1",
				SignerEmail: "new.hire@example.com", Status: forms.StatusCompleted}, nil
		},
		applySubmissionStatusFn: func(context.Context, int64, string, *time.Time, *time.Time, *time.Time) error {
			applied = true
			return nil
		},
	}
	service := newTestService(st, &fakeESign{})
	defer service.Close()

	if _, err := service.SigningURL(context.Background(), "900", ""); err != nil {
		t.Fatalf("signing url: %v", err)
	}
	if applied {
		t.Fatal("completed submission must not be downgraded to opened")
	}
}

func TestRemindUnknownSubmission(t *testing.T) {
	es := &fakeESign{}
	service := newTestService(&fakeStore{}, es)
	defer service.Close()

	err := service.Remind(context.Background(), "nope", "new.hire@example.com")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
	if es.remindCalls != 0 {
		t.Fatal("provider must not be called for an unknown submission")
	}
}

func TestRemindPassesThroughToProvider(t *testing.T) {
	st := &fakeStore{
		getSubmissionByExternalFn: func(context.Context, string) (store.FormSubmission, error) {
			return store.FormSubmission{ID: 7, ExternalID: "900"}, nil
		},
	}
	es := &fakeESign{}
	service := newTestService(st, es)
	defer service.Close()

	if err := service.Remind(context.Background(), "900", "new.hire@example.com"); err != nil {
		t.Fatalf("remind: %v", err)
	}
	if es.remindCalls != 1 {
		t.Fatalf("expected one provider call, got %d", es.remindCalls)
	}
}

func TestRefreshSubmissionStatusIgnoresProviderDowngrade(t *testing.T) {
	applied := false
	st := &fakeStore{
		getSubmissionFn: func(context.Context, int64) (store.FormSubmission, error) {
			return store.FormSubmission{ID: 7, ExternalID: "900", EmployeeID: "emp_1",
				Status: forms.StatusCompleted}, nil
		},
		applySubmissionStatusFn: func(context.Context, int64, string, *time.Time, *time.Time, *time.Time) error {
			applied = true
			return nil
		},
	}
	es := &fakeESign{
		getSubmissionFn: func(context.Context, string) (esign.Submission, error) {
			return esign.Submission{ID: 900, Status: "pending"}, nil
		},
	}
	service := newTestService(st, es)
	defer service.Close()

	if err := service.RefreshSubmissionStatus(context.Background(), 7); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if applied {
		t.Fatal("a lower-ranked provider status must not overwrite completed")
	}
}

func TestRefreshSubmissionStatusAppliesProgress(t *testing.T) {
	var appliedStatus string
	now := time.Now()
	st := &fakeStore{
		getSubmissionFn: func(context.Context, int64) (store.FormSubmission, error) {
			return store.FormSubmission{ID: 7, ExternalID: "900", EmployeeID: "emp_1",
				Status: forms.StatusSent}, nil
		},
		applySubmissionStatusFn: func(_ context.Context, _ int64, status string, _, _, _ *time.Time) error {
			appliedStatus = status
			return nil
		},
	}
	es := &fakeESign{
		getSubmissionFn: func(context.Context, string) (esign.Submission, error) {
			return esign.Submission{
				ID:          900,
				Status:      forms.StatusCompleted,
				CompletedAt: &now,
				Submitters: []esign.Submitter{
					{Email: "new.hire@example.com", Status: forms.StatusCompleted, CompletedAt: &now},
				},
			}, nil
		},
	}
	service := newTestService(st, es)
	defer service.Close()

	if err := service.RefreshSubmissionStatus(context.Background(), 7); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if appliedStatus != forms.StatusCompleted {
		t.Fatalf("expected completed applied, got %q", appliedStatus)
	}
}

type nopReader struct{}

func (nopReader) Read([]byte) (int, error) { return 0, io.EOF }

func TestUploadDocumentUnavailableWithoutObjectStore(t *testing.T) {
	service := newTestService(&fakeStore{}, &fakeESign{})
	defer service.Close()

	_, err := service.UploadEmployeeDocument(context.Background(), "emp_1", "", "w4.pdf", "application/pdf", nopReader{}, 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "STORAGE_UNAVAILABLE" {
		t.Fatalf("expected STORAGE_UNAVAILABLE, got %v", err)
	}
}

func TestInviteUnavailableWithoutRedis(t *testing.T) {
	service := newTestService(&fakeStore{}, &fakeESign{})
	defer service.Close()

	_, err := service.InviteEmployee(context.Background(), "emp_1", "hr@example.com")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVITES_UNAVAILABLE" {
		t.Fatalf("expected INVITES_UNAVAILABLE, got %v", err)
	}
}

func TestSetEmployeeStatusUnknownEmployeeReturnsNotFound(t *testing.T) {
	st := &fakeStore{
		setEmployeeStatusFn: func(context.Context, string, string) error {
			return sql.ErrNoRows
		},
	}
	service := newTestService(st, &fakeESign{})
	defer service.Close()

	err := service.SetEmployeeStatus(context.Background(), "emp_missing", "active")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 for an unknown employee, got %v", err)
	}
}
