package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"staffport/api/internal/forms"
	"staffport/api/internal/search"
	"staffport/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/onboarding/required-forms" {
		items, err := s.service.RequiredForms(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list required forms", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/onboarding/accept" {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		employee, err := s.service.AcceptInvitation(r.Context(), body.Token)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"employee": employee})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/employees" {
		items, err := s.service.ListEmployees(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list employees", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"employees": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/employees" {
		var body EmployeeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		employee, err := s.service.CreateEmployee(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"employee": employee})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/employees/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		payload := s.service.SearchEmployees(search.Query{Text: q, Limit: limit})
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/form-templates" {
		items, err := s.service.ListTemplates(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list templates", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/form-templates" {
		var body TemplateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		template, err := s.service.CreateTemplate(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"template": template})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/required-documents" {
		items, err := s.service.ListRequiredDocuments(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list required documents", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requiredDocuments": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/required-documents" {
		var body RequiredDocumentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.CreateRequiredDocument(r.Context(), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"requiredDocument": doc})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/settings" {
		items, err := s.service.ListSettingSections(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load settings", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": items})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "settings" {
		s.handleSettings(w, r, parts[2])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "form-templates" {
		s.handleTemplate(w, r, parts[2])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "required-documents" {
		s.handleRequiredDocument(w, r, parts[2])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocument(w, r, parts[2], parts)
		return
	}

	// /api/onboarding/{id}/... aliases the employee form routes.
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "onboarding" {
		s.handleEmployee(w, r, parts[2], parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "employees" {
		s.handleEmployee(w, r, parts[2], parts)
		return
	}

	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "forms" {
		s.handleForms(w, r, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEmployee(w http.ResponseWriter, r *http.Request, employeeID string, parts []string) {
	if len(parts) == 3 {
		if r.Method == http.MethodGet {
			employee, err := s.service.GetEmployee(r.Context(), employeeID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"employee": employee})
			return
		}
		if r.Method == http.MethodPut {
			var body EmployeeInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			employee, err := s.service.UpdateEmployee(r.Context(), employeeID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"employee": employee})
			return
		}
		if r.Method == http.MethodDelete {
			if err := s.service.DeleteEmployee(r.Context(), employeeID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPost {
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetEmployeeStatus(r.Context(), employeeID, body.Status); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "invite" && r.Method == http.MethodPost {
		var body struct {
			InvitedBy string `json:"invitedBy"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		invitation, err := s.service.InviteEmployee(r.Context(), employeeID, body.InvitedBy)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, invitation)
		return
	}

	if len(parts) == 4 && parts[3] == "form-submissions" && r.Method == http.MethodGet {
		rows, err := s.service.FormSubmissions(r.Context(), employeeID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submissions": submissionPayloads(rows)})
		return
	}

	if len(parts) == 4 && parts[3] == "send-form" && r.Method == http.MethodPost {
		var body SendFormInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		row, err := s.service.SendForm(r.Context(), employeeID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submission": submissionPayload(row)})
		return
	}

	if len(parts) == 4 && parts[3] == "documents" {
		if r.Method == http.MethodGet {
			items, err := s.service.ListEmployeeDocuments(r.Context(), employeeID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
			return
		}
		if r.Method == http.MethodPost {
			s.handleDocumentUpload(w, r, employeeID)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleForms(w http.ResponseWriter, r *http.Request, parts []string) {
	// /api/forms/submission/{localId}/update-status
	if len(parts) == 5 && parts[2] == "submission" && parts[4] == "update-status" && r.Method == http.MethodPost {
		localID, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "submission id must be an integer", nil)
			return
		}
		if err := s.service.RefreshSubmissionStatus(r.Context(), localID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) != 5 || parts[2] != "submissions" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	submissionID := parts[3]

	if parts[4] == "sign" && r.Method == http.MethodGet {
		signer := strings.TrimSpace(r.URL.Query().Get("signer"))
		info, err := s.service.SigningURL(r.Context(), submissionID, signer)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	}

	if parts[4] == "remind" && r.Method == http.MethodPost {
		var body struct {
			SignerEmail string `json:"signerEmail"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Remind(r.Context(), submissionID, body.SignerEmail); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if parts[4] == "signers" && r.Method == http.MethodGet {
		matches, err := s.service.SignerStates(r.Context(), submissionID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"signers": signerPayloads(matches)})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocumentUpload(w http.ResponseWriter, r *http.Request, employeeID string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file field is required", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	doc, err := s.service.UploadEmployeeDocument(
		r.Context(),
		employeeID,
		strings.TrimSpace(r.FormValue("requiredDocumentId")),
		header.Filename,
		contentType,
		file,
		header.Size,
	)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	if len(parts) == 4 && parts[3] == "download-url" && r.Method == http.MethodGet {
		url, err := s.service.EmployeeDocumentURL(r.Context(), documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteEmployeeDocument(r.Context(), documentID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTemplate(w http.ResponseWriter, r *http.Request, templateID string) {
	if r.Method == http.MethodPut {
		var body TemplateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		template, err := s.service.UpdateTemplate(r.Context(), templateID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"template": template})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteTemplate(r.Context(), templateID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleRequiredDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method == http.MethodPut {
		var body RequiredDocumentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.UpdateRequiredDocument(r.Context(), id, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requiredDocument": doc})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteRequiredDocument(r.Context(), id); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request, section string) {
	if r.Method == http.MethodGet {
		values, err := s.service.GetSetting(r.Context(), section)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": section, "values": values})
		return
	}

	if r.Method == http.MethodPut {
		var body map[string]any
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		values, err := s.service.UpdateSetting(r.Context(), section, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": section, "values": values})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// submissionPayload decorates a row with its resolved display status.
func submissionPayload(row store.FormSubmission) map[string]any {
	signers := make([]map[string]any, 0, len(row.Signers))
	for _, signer := range row.Signers {
		signers = append(signers, map[string]any{
			"email":         signer.Email,
			"role":          signer.Role,
			"status":        signer.Status,
			"displayStatus": forms.SignerDisplayStatus(&signer),
			"sentAt":        signer.SentAt,
			"openedAt":      signer.OpenedAt,
			"completedAt":   signer.CompletedAt,
		})
	}
	return map[string]any{
		"id":            row.ID,
		"templateId":    row.TemplateID,
		"externalId":    row.ExternalID,
		"employeeId":    row.EmployeeID,
		"signerEmail":   row.SignerEmail,
		"status":        row.Status,
		"displayStatus": forms.DisplayStatus(&row),
		"sentAt":        row.SentAt,
		"openedAt":      row.OpenedAt,
		"completedAt":   row.CompletedAt,
		"createdAt":     row.CreatedAt,
		"updatedAt":     row.UpdatedAt,
		"signers":       signers,
	}
}

func submissionPayloads(rows []store.FormSubmission) []map[string]any {
	payloads := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, submissionPayload(row))
	}
	return payloads
}

func signerPayloads(matches []forms.SignerMatch) []map[string]any {
	payloads := make([]map[string]any, 0, len(matches))
	for _, match := range matches {
		entry := map[string]any{
			"role":     match.Template.Role,
			"name":     match.Template.Name,
			"required": match.Template.Required,
			"matched":  match.Matched,
		}
		if match.Matched {
			entry["email"] = match.Submission.Email
			entry["status"] = match.Submission.Status
			entry["displayStatus"] = forms.SignerDisplayStatus(match.Submission)
		} else {
			entry["displayStatus"] = forms.DisplayNotSent
		}
		payloads = append(payloads, entry)
	}
	return payloads
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		// An empty body means zero-value input, not malformed JSON.
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
