// Package pagination splits API listings into pages selected with the
// page and per_page query parameters.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 500
)

// Params is a requested page. Page counts from 1.
type Params struct {
	Page    int
	PerPage int
}

// Offset is the index of the first item on the page
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Page is one page of a listing
type Page[T any] struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
	Results      []T `json:"results"`
}

// ParseParams reads page and per_page from the query string. Missing or
// malformed values fall back to the defaults; per_page is capped.
func ParseParams(r *http.Request) Params {
	query := r.URL.Query()

	page, err := strconv.Atoi(query.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(query.Get("per_page"))
	if err != nil || perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return Params{Page: page, PerPage: perPage}
}

// Paginate cuts the requested page out of items. A page past the end has
// no results but still reports the totals.
func Paginate[T any](items []T, p Params) Page[T] {
	results := []T{}
	if start := p.Offset(); start < len(items) {
		end := start + p.PerPage
		if end > len(items) {
			end = len(items)
		}
		results = items[start:end]
	}
	return Page[T]{
		Page:         p.Page,
		PerPage:      p.PerPage,
		TotalPages:   TotalPages(len(items), p.PerPage),
		TotalResults: len(items),
		Results:      results,
	}
}

// TotalPages is at least 1 so an empty listing still has a first page
func TotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	if pages := (total + perPage - 1) / perPage; pages > 1 {
		return pages
	}
	return 1
}
