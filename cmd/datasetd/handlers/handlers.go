package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/labstack/echo/v4"
	binderr "github.com/opst/knitpipe/pkg/api-types-binding/errors"
	"github.com/opst/knitpipe/pkg/domain"
)

// Enqueuer puts jobs into the task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobs ...domain.Job) error
}

// decode the request body as JSON into v.
//
// It returns an echo.HTTPError as it is, to be returned by handlers.
func decodeJSON(c echo.Context, v any) error {
	if !isJSON(c) {
		return binderr.BadRequest(
			"unexpected content type. it shoule be application/json", nil,
		)
	}
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return binderr.BadRequest("can not understand the requested json", err)
	}
	return nil
}

func isJSON(c echo.Context) bool {
	ctyp, _, _ := strings.Cut(c.Request().Header.Get("content-type"), ";")
	return strings.ToLower(strings.TrimSpace(ctyp)) == "application/json"
}
