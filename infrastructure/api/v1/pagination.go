package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/cr0mbly/esbinder/domain/repository"
	"github.com/cr0mbly/esbinder/infrastructure/api/jsonapi"
)

// MaxPageSize is the maximum allowed page size.
const MaxPageSize = 100

// PaginationParams holds pagination parameters parsed from query strings.
type PaginationParams struct {
	page     int
	pageSize int
}

// ParsePagination reads page and page_size from the query string. Invalid
// values fall back to page 1 and defaultSize; page_size is capped at
// MaxPageSize.
func ParsePagination(r *http.Request, defaultSize int) PaginationParams {
	params := PaginationParams{page: 1, pageSize: min(max(defaultSize, 1), MaxPageSize)}

	if v := r.URL.Query().Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page >= 1 {
			params.page = page
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size >= 1 {
			params.pageSize = min(size, MaxPageSize)
		}
	}
	return params
}

// Page returns the page number (1-indexed).
func (p PaginationParams) Page() int { return p.page }

// PageSize returns the page size.
func (p PaginationParams) PageSize() int { return p.pageSize }

// Offset returns the number of items before the page.
func (p PaginationParams) Offset() int {
	return (p.page - 1) * p.pageSize
}

// Options returns repository options for database pagination.
func (p PaginationParams) Options() []repository.Option {
	return repository.WithPagination(p.pageSize, p.Offset())
}

func (p PaginationParams) totalPages(total int64) int {
	return int((total + int64(p.pageSize) - 1) / int64(p.pageSize))
}

// PaginationMeta builds a meta object from pagination params and total count.
func PaginationMeta(p PaginationParams, total int64) jsonapi.Meta {
	return jsonapi.Meta{
		"page":        p.page,
		"page_size":   p.pageSize,
		"total_count": total,
		"total_pages": p.totalPages(total),
	}
}

// PaginationLinks builds self, prev and next links for the request.
func PaginationLinks(r *http.Request, p PaginationParams, total int64) *jsonapi.Links {
	link := func(page int) string {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(p.pageSize))
		return fmt.Sprintf("%s?%s", r.URL.Path, q.Encode())
	}

	links := jsonapi.Links{Self: link(p.page)}
	if p.page > 1 {
		links.Prev = link(p.page - 1)
	}
	if p.page < p.totalPages(total) {
		links.Next = link(p.page + 1)
	}
	return &links
}
