package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	MaxLimit = 500

	TotalCountHeader = "X-Total-Count"
)

// Params holds pagination parameters extracted from a request. A zero Limit
// means the whole result set is returned.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Missing or invalid values leave
// the listing unpaginated.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 0 {
		limit = 0
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

// SQL returns the LIMIT/OFFSET clause for SQL queries, or "" when the
// whole set is wanted.
func (p Params) SQL() string {
	switch {
	case p.Limit > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
	case p.Offset > 0:
		return fmt.Sprintf("OFFSET %d", p.Offset)
	default:
		return ""
	}
}

// SetTotal writes the unpaginated result size to the response headers.
func SetTotal(c echo.Context, total int) {
	c.Response().Header().Set(TotalCountHeader, strconv.Itoa(total))
}
