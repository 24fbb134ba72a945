package handlers_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/opst/knitpipe/pkg/domain"
)

type enqueuer struct {
	jobs []domain.Job
	err  error
}

func (e *enqueuer) Enqueue(_ context.Context, jobs ...domain.Job) error {
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, jobs...)
	return nil
}

// status code of the response, or of the error returned by handler.
func statusOf(t *testing.T, err error, resp *httptest.ResponseRecorder) int {
	t.Helper()
	if err == nil {
		return resp.Code
	}
	var herr *echo.HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("error is not echo.HTTPError: %#v", err)
	}
	return herr.Code
}
