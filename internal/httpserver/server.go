// Package httpserver exposes the HTTP surface: health checking and the
// interview signaling socket.
package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mannat244/Assesly/internal/config"
	"github.com/mannat244/Assesly/internal/rtc"
)

// New creates the configured Echo server with all routes registered.
func New(cfg config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	h := rtc.NewHandler(cfg)
	e.GET("/interview", func(c echo.Context) error {
		h.ServeWebSocket(c.Response(), c.Request())
		return nil
	})

	return e
}
