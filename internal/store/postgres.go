package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// requireRow turns a zero-row keyed UPDATE/DELETE into sql.ErrNoRows so
// callers can map it to a 404.
func requireRow(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Employees

func (s *PostgresStore) ListEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, work_email, phone, title, status, start_date, created_at, updated_at
		FROM employees
		ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	items := make([]Employee, 0)
	for rows.Next() {
		var item Employee
		if err := rows.Scan(&item.ID, &item.FirstName, &item.LastName, &item.Email, &item.WorkEmail,
			&item.Phone, &item.Title, &item.Status, &item.StartDate, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetEmployee(ctx context.Context, employeeID string) (Employee, error) {
	var item Employee
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, work_email, phone, title, status, start_date, created_at, updated_at
		FROM employees
		WHERE id=$1
	`, employeeID).Scan(&item.ID, &item.FirstName, &item.LastName, &item.Email, &item.WorkEmail,
		&item.Phone, &item.Title, &item.Status, &item.StartDate, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Employee{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertEmployee(ctx context.Context, item Employee) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, first_name, last_name, email, work_email, phone, title, status, start_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.FirstName, item.LastName, item.Email, item.WorkEmail, item.Phone, item.Title, item.Status, item.StartDate)
	if err != nil {
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateEmployee(ctx context.Context, item Employee) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE employees
		SET first_name=$2, last_name=$3, email=$4, work_email=$5, phone=$6, title=$7, start_date=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.FirstName, item.LastName, item.Email, item.WorkEmail, item.Phone, item.Title, item.StartDate)
	if err != nil {
		return fmt.Errorf("update employee: %w", err)
	}
	return requireRow(result, "update employee")
}

func (s *PostgresStore) SetEmployeeStatus(ctx context.Context, employeeID, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE employees SET status=$2, updated_at=NOW() WHERE id=$1`, employeeID, status)
	if err != nil {
		return fmt.Errorf("set employee status: %w", err)
	}
	return requireRow(result, "set employee status")
}

func (s *PostgresStore) DeleteEmployee(ctx context.Context, employeeID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE id=$1`, employeeID)
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	return requireRow(result, "delete employee")
}

// SearchEmployees is the Postgres fallback for the directory search.
func (s *PostgresStore) SearchEmployees(ctx context.Context, query string, limit int) ([]Employee, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, work_email, phone, title, status, start_date, created_at, updated_at
		FROM employees
		WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1 OR work_email ILIKE $1 OR title ILIKE $1
		ORDER BY last_name, first_name
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search employees: %w", err)
	}
	defer rows.Close()

	items := make([]Employee, 0)
	for rows.Next() {
		var item Employee
		if err := rows.Scan(&item.ID, &item.FirstName, &item.LastName, &item.Email, &item.WorkEmail,
			&item.Phone, &item.Title, &item.Status, &item.StartDate, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Form templates

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]FormTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, name, description, is_required, sort_order, created_at, updated_at
		FROM form_templates
		ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]FormTemplate, 0)
	for rows.Next() {
		var item FormTemplate
		if err := rows.Scan(&item.ID, &item.ExternalID, &item.Name, &item.Description,
			&item.IsRequired, &item.SortOrder, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}

	for i := range items {
		signers, err := s.listTemplateSigners(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Signers = signers
	}
	return items, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (FormTemplate, error) {
	var item FormTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, description, is_required, sort_order, created_at, updated_at
		FROM form_templates
		WHERE id=$1 OR external_id=$1
	`, templateID).Scan(&item.ID, &item.ExternalID, &item.Name, &item.Description,
		&item.IsRequired, &item.SortOrder, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return FormTemplate{}, err
	}
	signers, err := s.listTemplateSigners(ctx, item.ID)
	if err != nil {
		return FormTemplate{}, err
	}
	item.Signers = signers
	return item, nil
}

func (s *PostgresStore) listTemplateSigners(ctx context.Context, templateID string) ([]TemplateSigner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, name, role, required, sort_order
		FROM template_signers
		WHERE template_id=$1
		ORDER BY sort_order
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template signers: %w", err)
	}
	defer rows.Close()

	items := make([]TemplateSigner, 0)
	for rows.Next() {
		var item TemplateSigner
		if err := rows.Scan(&item.ID, &item.TemplateID, &item.Name, &item.Role, &item.Required, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan template signer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template signers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, item FormTemplate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert template: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO form_templates (id, external_id, name, description, is_required, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ExternalID, item.Name, item.Description, item.IsRequired, item.SortOrder); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert template: %w", err)
	}
	if err := insertSigners(ctx, tx, item.ID, item.Signers); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, item FormTemplate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update template: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE form_templates
		SET external_id=$2, name=$3, description=$4, is_required=$5, sort_order=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.ExternalID, item.Name, item.Description, item.IsRequired, item.SortOrder)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update template: %w", err)
	}
	if err := requireRow(result, "update template"); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM template_signers WHERE template_id=$1`, item.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear template signers: %w", err)
	}
	if err := insertSigners(ctx, tx, item.ID, item.Signers); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update template: %w", err)
	}
	return nil
}

func insertSigners(ctx context.Context, tx *sql.Tx, templateID string, signers []TemplateSigner) error {
	for i, signer := range signers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO template_signers (id, template_id, name, role, required, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, signer.ID, templateID, signer.Name, signer.Role, signer.Required, i); err != nil {
			return fmt.Errorf("insert template signer: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM form_templates WHERE id=$1`, templateID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireRow(result, "delete template")
}

// ---------------------------------------------------------------------------
// Form submissions

const submissionColumns = `id, template_id, external_id, employee_id, signer_email, status,
	sent_at, opened_at, completed_at, created_at, updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (FormSubmission, error) {
	var item FormSubmission
	err := row.Scan(&item.ID, &item.TemplateID, &item.ExternalID, &item.EmployeeID, &item.SignerEmail,
		&item.Status, &item.SentAt, &item.OpenedAt, &item.CompletedAt, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) ListSubmissionsByEmployee(ctx context.Context, employeeID string) ([]FormSubmission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM form_submissions
		WHERE employee_id=$1
		ORDER BY created_at DESC
	`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]FormSubmission, 0)
	for rows.Next() {
		item, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}

	for i := range items {
		signers, err := s.listSubmissionSigners(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Signers = signers
	}
	return items, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, submissionID int64) (FormSubmission, error) {
	item, err := scanSubmission(s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM form_submissions
		WHERE id=$1
	`, submissionID))
	if err != nil {
		return FormSubmission{}, err
	}
	signers, err := s.listSubmissionSigners(ctx, item.ID)
	if err != nil {
		return FormSubmission{}, err
	}
	item.Signers = signers
	return item, nil
}

func (s *PostgresStore) GetSubmissionByExternalID(ctx context.Context, externalID string) (FormSubmission, error) {
	item, err := scanSubmission(s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM form_submissions
		WHERE external_id=$1
	`, externalID))
	if err != nil {
		return FormSubmission{}, err
	}
	signers, err := s.listSubmissionSigners(ctx, item.ID)
	if err != nil {
		return FormSubmission{}, err
	}
	item.Signers = signers
	return item, nil
}

func (s *PostgresStore) listSubmissionSigners(ctx context.Context, submissionID int64) ([]SubmissionSigner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, email, role, status, sent_at, opened_at, completed_at
		FROM submission_signers
		WHERE submission_id=$1
		ORDER BY id
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list submission signers: %w", err)
	}
	defer rows.Close()

	items := make([]SubmissionSigner, 0)
	for rows.Next() {
		var item SubmissionSigner
		if err := rows.Scan(&item.ID, &item.SubmissionID, &item.Email, &item.Role, &item.Status,
			&item.SentAt, &item.OpenedAt, &item.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan submission signer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission signers: %w", err)
	}
	return items, nil
}

// InsertSubmission stores a new submission row and its signers, returning the
// generated local row ID.
func (s *PostgresStore) InsertSubmission(ctx context.Context, item FormSubmission) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert submission: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO form_submissions (template_id, external_id, employee_id, signer_email, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, item.TemplateID, item.ExternalID, item.EmployeeID, item.SignerEmail, item.Status, item.SentAt).Scan(&id); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	for _, signer := range item.Signers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO submission_signers (submission_id, email, role, status, sent_at)
			VALUES ($1, $2, $3, $4, $5)
		`, id, signer.Email, signer.Role, signer.Status, signer.SentAt); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert submission signer: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert submission: %w", err)
	}
	return id, nil
}

// ApplySubmissionStatus updates a submission's status and fills any timestamp
// that is not already set. Timestamps never regress to NULL.
func (s *PostgresStore) ApplySubmissionStatus(ctx context.Context, submissionID int64, status string, sentAt, openedAt, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE form_submissions
		SET status=$2,
			sent_at=COALESCE(sent_at, $3),
			opened_at=COALESCE(opened_at, $4),
			completed_at=COALESCE(completed_at, $5),
			updated_at=NOW()
		WHERE id=$1
	`, submissionID, status, sentAt, openedAt, completedAt)
	if err != nil {
		return fmt.Errorf("apply submission status: %w", err)
	}
	return nil
}

// ApplySignerStatus updates the status of one signer row matched by email.
func (s *PostgresStore) ApplySignerStatus(ctx context.Context, submissionID int64, email, status string, sentAt, openedAt, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE submission_signers
		SET status=$3,
			sent_at=COALESCE(sent_at, $4),
			opened_at=COALESCE(opened_at, $5),
			completed_at=COALESCE(completed_at, $6)
		WHERE submission_id=$1 AND email=$2
	`, submissionID, email, status, sentAt, openedAt, completedAt)
	if err != nil {
		return fmt.Errorf("apply signer status: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Required documents

func (s *PostgresStore) ListRequiredDocuments(ctx context.Context) ([]RequiredDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, required, sort_order, created_at
		FROM required_documents
		ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list required documents: %w", err)
	}
	defer rows.Close()

	items := make([]RequiredDocument, 0)
	for rows.Next() {
		var item RequiredDocument
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Required, &item.SortOrder, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan required document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate required documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertRequiredDocument(ctx context.Context, item RequiredDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO required_documents (id, name, description, required, sort_order)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Name, item.Description, item.Required, item.SortOrder)
	if err != nil {
		return fmt.Errorf("insert required document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRequiredDocument(ctx context.Context, item RequiredDocument) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE required_documents
		SET name=$2, description=$3, required=$4, sort_order=$5
		WHERE id=$1
	`, item.ID, item.Name, item.Description, item.Required, item.SortOrder)
	if err != nil {
		return fmt.Errorf("update required document: %w", err)
	}
	return requireRow(result, "update required document")
}

func (s *PostgresStore) DeleteRequiredDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM required_documents WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete required document: %w", err)
	}
	return requireRow(result, "delete required document")
}

// ---------------------------------------------------------------------------
// Employee documents

func (s *PostgresStore) InsertEmployeeDocument(ctx context.Context, item EmployeeDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employee_documents (id, employee_id, required_document_id, file_name, object_key, content_type, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.EmployeeID, item.RequiredDocumentID, item.FileName, item.ObjectKey, item.ContentType, item.Size)
	if err != nil {
		return fmt.Errorf("insert employee document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEmployeeDocuments(ctx context.Context, employeeID string) ([]EmployeeDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, required_document_id, file_name, object_key, content_type, size, uploaded_at
		FROM employee_documents
		WHERE employee_id=$1
		ORDER BY uploaded_at DESC
	`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list employee documents: %w", err)
	}
	defer rows.Close()

	items := make([]EmployeeDocument, 0)
	for rows.Next() {
		var item EmployeeDocument
		if err := rows.Scan(&item.ID, &item.EmployeeID, &item.RequiredDocumentID, &item.FileName,
			&item.ObjectKey, &item.ContentType, &item.Size, &item.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan employee document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employee documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetEmployeeDocument(ctx context.Context, documentID string) (EmployeeDocument, error) {
	var item EmployeeDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, required_document_id, file_name, object_key, content_type, size, uploaded_at
		FROM employee_documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.EmployeeID, &item.RequiredDocumentID, &item.FileName,
		&item.ObjectKey, &item.ContentType, &item.Size, &item.UploadedAt)
	if err != nil {
		return EmployeeDocument{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteEmployeeDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM employee_documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete employee document: %w", err)
	}
	return requireRow(result, "delete employee document")
}

// ---------------------------------------------------------------------------
// Settings

func (s *PostgresStore) GetSetting(ctx context.Context, section string) (Setting, error) {
	var item Setting
	err := s.db.QueryRowContext(ctx, `
		SELECT section, value, updated_at FROM settings WHERE section=$1
	`, section).Scan(&item.Section, &item.Value, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{Section: section, Value: "{}"}, nil
	}
	if err != nil {
		return Setting{}, fmt.Errorf("get setting: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpsertSetting(ctx context.Context, section, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (section, value)
		VALUES ($1, $2)
		ON CONFLICT (section) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, section, value)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT section, value, updated_at FROM settings ORDER BY section`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	items := make([]Setting, 0)
	for rows.Next() {
		var item Setting
		if err := rows.Scan(&item.Section, &item.Value, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return items, nil
}
