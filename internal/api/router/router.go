package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/thumbnailer/internal/api/handlers/health"
	"github.com/aliskhannn/thumbnailer/internal/api/handlers/image"
	"github.com/aliskhannn/thumbnailer/internal/middleware"
)

func Setup(ih *image.Handler, hh *health.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/health", hh.Check)

	api := r.Group("/api")

	api.POST("/images", ih.Upload)                   // upload an image
	api.GET("/images/:id", ih.Info)                  // record metadata
	api.GET("/images/:id/:resolution", ih.Rendition) // rendition bytes

	return r
}
