package backend

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"boardsync/codec"
)

// NewServer returns an echo instance serving m under /api.
func NewServer(m *Memory, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = codec.Serializer{}
	e.Use(middleware.Recover())
	Register(e, m, logger)
	return e
}
