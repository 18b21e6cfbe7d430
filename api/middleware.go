package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// GzipRequestMiddleware lets clients send gzip-compressed JSON. Handlers
// always see the plain body; a body that does not decompress gets a 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := decompressBody(c.Request()); err != nil {
				return writeError(c, http.StatusBadRequest, codeBadRequest, "invalid gzip body")
			}
			return next(c)
		}
	}
}

func decompressBody(req *http.Request) error {
	if !gzipEncoded(req.Header.Values(echo.HeaderContentEncoding)) {
		return nil
	}
	zr, err := gzip.NewReader(req.Body)
	if err != nil {
		_ = req.Body.Close()
		return err
	}
	req.Body = gzipBody{zr: zr, src: req.Body}
	req.ContentLength = -1
	req.Header.Del(echo.HeaderContentEncoding)
	req.Header.Del(echo.HeaderContentLength)
	return nil
}

func gzipEncoded(values []string) bool {
	for _, v := range values {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return true
			}
		}
	}
	return false
}

// gzipBody closes the decompressor and the original body together.
type gzipBody struct {
	zr  *gzip.Reader
	src io.ReadCloser
}

func (b gzipBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b gzipBody) Close() error { return errors.Join(b.zr.Close(), b.src.Close()) }
