package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/vlpredict/internal/platform/auth"
)

// Recovery turns a handler panic into a 500. The panic and stack are logged
// and recorded on the request's span.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				ctx := c.Request().Context()
				rid, _ := c.Get("request_id").(string)
				perr := fmt.Errorf("panic: %v", r)

				span := trace.SpanFromContext(ctx)
				span.RecordError(perr)
				span.SetStatus(codes.Error, "panic")

				logger.Error().
					Err(perr).
					Str("request_id", rid).
					Str("user", auth.UserIDFromContext(ctx)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
