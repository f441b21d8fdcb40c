package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres directory.
type Service struct {
	meili *Meili
	pg    *PgDirectory
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgDirectory) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres directory error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEmployee indexes an employee (fire-and-forget to Meilisearch).
func (s *Service) IndexEmployee(rec EmployeeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEmployee(rec); err != nil {
			log.Printf("search: index employee %s: %v", rec.ID, err)
		}
	}()
}

// DeleteEmployee removes an employee from the search index (fire-and-forget).
func (s *Service) DeleteEmployee(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteEmployee(id); err != nil {
			log.Printf("search: delete employee %s: %v", id, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
