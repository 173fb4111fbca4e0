package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/florai/contrib-pipeline/internal/storage"
)

// initMediaRoutes serves contributed images when they are stored on the
// local filesystem. Remote backends publish their own URLs.
func (c *Controller) initMediaRoutes() {
	local, ok := storage.Local(c.Objects)
	if !ok {
		return
	}
	c.Group.GET("/media/:bucket/*", func(ctx echo.Context) error {
		return c.ServeMedia(ctx, local)
	})
}

// ServeMedia handles GET /media/:bucket/*.
func (c *Controller) ServeMedia(ctx echo.Context, local *storage.LocalStore) error {
	if ctx.Param("bucket") != local.Bucket() {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}
	key, err := url.PathUnescape(ctx.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid object key").SetInternal(err)
	}
	ctx.Response().Header().Set("Cache-Control", "private, max-age=3600")
	return local.Serve(ctx, key)
}
