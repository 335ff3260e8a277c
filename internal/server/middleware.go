package server

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/emergent-company/emergent.graph/pkg/logger"
	"github.com/emergent-company/emergent.graph/pkg/metrics"
	"github.com/emergent-company/emergent.graph/pkg/scope"
)

// quietPaths are polled by orchestrators and scrapers and never logged.
var quietPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/ready":   true,
	"/metrics": true,
}

func skipQuiet(c echo.Context) bool {
	return quietPaths[c.Request().URL.Path]
}

// requestLogger logs each request once: 5xx at error, 4xx at warn.
func requestLogger(log *slog.Logger, access *logger.HTTPLogger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:      skipQuiet,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		LogMethod:    true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if project := c.Request().Header.Get(scope.Header); project != "" {
				attrs = append(attrs, slog.String("project_id", project))
			}
			if v.Error != nil {
				attrs = append(attrs, logger.Error(v.Error))
			}
			switch {
			case v.Status >= 500:
				log.Error("request failed", attrs...)
			case v.Status >= 400:
				log.Warn("request rejected", attrs...)
			default:
				log.Info("request", attrs...)
			}
			access.LogRequest(v.RemoteIP, v.Method, v.URI, v.Status, v.Latency, v.UserAgent, v.RequestID)
			return nil
		},
	})
}

// requestMetrics records latency under the matched route so ids do not
// explode label cardinality. Unmatched paths share one label.
func requestMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipQuiet(c) {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < 400 {
					status = 500
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.
				WithLabelValues(route, c.Request().Method, strconv.Itoa(status/100)+"xx").
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func recoverer(log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error("panic recovered",
				slog.String("path", c.Path()),
				logger.Error(err),
				slog.String("stack", string(stack)),
			)
			return err
		},
	})
}
