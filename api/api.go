/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/blnkfinance/einvoice"
	"github.com/blnkfinance/einvoice/api/middleware"
	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	engine *einvoice.Engine
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	documents := router.Group("/documents")
	documents.GET("/list-all", a.ListAll)
	documents.GET("/real-time-updates", a.RealTimeUpdates)
	documents.POST("/bulk-submit", a.BulkSubmit)
	documents.POST("/:id/content", a.Content)
	documents.POST("/:id/submit-to-lhdn", a.SubmitToLHDN)
	documents.POST("/:id/cancel", a.Cancel)
	documents.GET("/:id/details", a.Details)
	documents.DELETE("/:id", a.Delete)

	return a.router
}

func NewAPI(e *einvoice.Engine) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf := e.Config()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(conf.Server.SecretKey))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{engine: e, router: r}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		entry := logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
			"client": c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Debug("request served")
	}
}

// respondError renders err as {code, message, details} with the matching status.
func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), apierror.As(err))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), nil))
}
