// Package search provides the employee directory search: Meilisearch when
// configured and healthy, PostgreSQL ILIKE as the fallback.
package search

// Result is a single directory hit returned to the caller.
type Result struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Query describes a directory search request.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a directory search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push employees into a search index.
type Indexer interface {
	IndexEmployee(rec EmployeeRecord) error
	DeleteEmployee(id string) error
}

// EmployeeRecord is the data we index per employee.
type EmployeeRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Title  string `json:"title"`
	Status string `json:"status"`
}
