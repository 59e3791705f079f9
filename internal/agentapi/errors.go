package agentapi

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
)

// respondErr mirrors internal/manager/httpapi's envelope writer; the two
// packages don't share an import since they run in separate processes.
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
