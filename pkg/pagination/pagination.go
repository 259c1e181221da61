package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit  = 20
	MaxLimit      = 100
	DefaultOffset = 0
)

// Params holds limit/offset pagination parameters
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Meta is returned alongside paginated results
type Meta struct {
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	Page       int   `json:"page"`
	HasMore    bool  `json:"has_more"`
}

// ParseParams reads limit and offset from the query string, falling back to
// defaults on missing or invalid values
func ParseParams(c *gin.Context) Params {
	params := Params{Limit: DefaultLimit, Offset: DefaultOffset}

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		if limit > MaxLimit {
			limit = MaxLimit
		}
		params.Limit = limit
	}

	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset >= 0 {
		params.Offset = offset
	}

	return params
}

// BuildMeta builds pagination metadata for a result set of total items
func BuildMeta(limit, offset int, total int64) *Meta {
	meta := &Meta{
		Limit:   limit,
		Offset:  offset,
		Total:   total,
		Page:    GetCurrentPage(offset, limit),
		HasMore: HasMore(offset, limit, total),
	}
	if limit > 0 && total > 0 {
		meta.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return meta
}

// HasMore reports whether items remain after the current page
func HasMore(offset, limit int, total int64) bool {
	return int64(offset)+int64(limit) < total
}

// GetCurrentPage returns the 1-based page number for offset
func GetCurrentPage(offset, limit int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}
