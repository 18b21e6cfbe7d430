package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const heartbeatInterval = 30 * time.Second

// stream pushes the caller's store state as server-sent events: once on
// connect and again after every change. The stream ends when the client
// disconnects or the session is closed.
func (h *handlers) stream(c echo.Context) error {
	st := callerStore(c)
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	changes, cancel := st.Subscribe()
	defer cancel()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	phone := callerPhone(c)
	touch := func() { h.Registry.Touch(phone) }
	logger := h.Logger.WithField("phone", phone)
	logger.Debug("stream.opened")
	defer logger.Debug("stream.closed")

	for {
		data, err := sonic.Marshal(viewState(c, st))
		if err != nil {
			logger.WithError(err).Error("stream.encode.failed")
			return nil
		}
		if _, err := res.Write([]byte("event: state\ndata: ")); err != nil {
			return nil
		}
		if _, err := res.Write(data); err != nil {
			return nil
		}
		if _, err := res.Write([]byte("\n\n")); err != nil {
			return nil
		}
		res.Flush()

		if !waitForChange(c, st.Done(), changes, ticker.C, touch) {
			return nil
		}
	}
}

// waitForChange blocks until the state changes, writing heartbeats in the
// meantime and calling touch after each one. It returns false when the
// stream should end.
func waitForChange(c echo.Context, done <-chan struct{}, changes <-chan struct{}, heartbeat <-chan time.Time, touch func()) bool {
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-done:
			return false
		case <-changes:
			return true
		case <-heartbeat:
			if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
				return false
			}
			c.Response().Flush()
			touch()
		}
	}
}
