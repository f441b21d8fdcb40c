package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"staffport/api/internal/store"
)

// PgDirectory implements Searcher against the employees table as a fallback.
type PgDirectory struct {
	store *store.PostgresStore
}

// NewPgDirectory creates a Postgres-backed directory searcher.
func NewPgDirectory(s *store.PostgresStore) *PgDirectory {
	return &PgDirectory{store: s}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgDirectory) Healthy() bool {
	return true
}

// Search runs an ILIKE match across name, email, and title columns.
func (p *PgDirectory) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	employees, err := p.store.SearchEmployees(ctx, q.Text, q.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("directory search: %w", err)
	}

	results := make([]Result, 0, len(employees))
	for _, emp := range employees {
		results = append(results, resultFromEmployee(emp))
	}
	return results, len(results), nil
}

func resultFromEmployee(emp store.Employee) Result {
	email := emp.WorkEmail
	if email == "" {
		email = emp.Email
	}
	return Result{
		ID:     emp.ID,
		Name:   strings.TrimSpace(emp.FirstName + " " + emp.LastName),
		Email:  email,
		Title:  emp.Title,
		Status: emp.Status,
	}
}

// RecordFromEmployee builds the indexable record for an employee.
func RecordFromEmployee(emp store.Employee) EmployeeRecord {
	r := resultFromEmployee(emp)
	return EmployeeRecord{
		ID:     r.ID,
		Name:   r.Name,
		Email:  r.Email,
		Title:  r.Title,
		Status: r.Status,
	}
}
