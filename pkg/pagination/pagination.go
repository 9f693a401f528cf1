package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts the limit and offset query parameters.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// WithLinks attaches navigation links built from basePath.
func (r *Response) WithLinks(basePath string) *Response {
	r.Links = Params{Limit: r.Limit, Offset: r.Offset}.Links(basePath, r.Total)
	return r
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page, never below 0.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Links returns self, next and previous links for a listing.
func (p Params) Links(basePath string, total int) []Link {
	links := []Link{{Relation: "self", URL: p.url(basePath, p.Offset)}}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: p.url(basePath, p.NextOffset())})
	}
	if p.HasPrevious() {
		links = append(links, Link{Relation: "previous", URL: p.url(basePath, p.PreviousOffset())})
	}
	return links
}

func (p Params) url(basePath string, offset int) string {
	return fmt.Sprintf("%s?offset=%d&limit=%d", basePath, offset, p.Limit)
}

// Link is one navigation link of a paginated response.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}
