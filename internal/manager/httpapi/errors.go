package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store"
)

// mapNotFound turns a store.ErrNotFound into the apierr kind the HTTP
// edge maps to 404, for handlers that call the store directly rather
// than through a service that already does this translation.
func mapNotFound(err error, msg string) error {
	if err == store.ErrNotFound {
		return apierr.NotFound(msg)
	}
	return err
}

// respondErr writes the apierr envelope for err, tagging it with this
// request's ID the way apierr.Write does for plain http.ResponseWriter
// callers — re-expressed against echo.Context since every handler in
// this package gets one instead of a raw ResponseWriter.
func respondErr(c echo.Context, err error) error {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Internal("internal error", err)
	}
	return c.JSON(apiErr.Status(), apierr.Envelope{
		Error:        apiErr.Error(),
		Suggestion:   apiErr.Suggestion,
		FaultMessage: apiErr.FaultMessage,
		RequestID:    c.Response().Header().Get(echo.HeaderXRequestID),
	})
}

func bindErr(c echo.Context, err error) error {
	return respondErr(c, apierr.Validation("invalid request body: "+err.Error()))
}

var errNotConfigured = apierr.Internal("manager not fully configured", nil)

func noContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}
