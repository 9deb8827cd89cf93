/*
Copyright 2024 DocuFlow Authors.

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
	"github.com/gin-gonic/gin"

	"github.com/docuflowhq/docuflow"
	"github.com/docuflowhq/docuflow/api/middleware"
	"github.com/docuflowhq/docuflow/config"
)

type Api struct {
	docuflow *docuflow.Docuflow
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/documents", a.CreateDocument)
	router.GET("/documents/:id", a.GetDocument)
	router.GET("/documents", a.GetAllDocuments)
	router.PUT("/documents/:id/priority", a.SetDocumentPriority)
	router.POST("/documents/:id/approve", a.ApproveDocument)

	router.GET("/queue/next", a.NextDocument)
	router.GET("/queue/stats", a.GetQueueStats)
	router.POST("/queue/requeue-stale", a.RequeueStaleDocuments)

	router.POST("/webhooks", a.CreateWebhook)
	router.GET("/webhooks/:id", a.GetWebhook)
	router.GET("/webhooks", a.GetWebhooks)
	router.PUT("/webhooks/:id", a.UpdateWebhook)
	router.DELETE("/webhooks/:id", a.DeleteWebhook)
	router.POST("/webhooks/:id/test", a.TestWebhook)
	router.GET("/webhooks/:id/events", a.GetWebhookEvents)

	router.POST("/templates", a.CreateTemplate)
	router.GET("/templates/:id", a.GetTemplate)
	router.GET("/templates", a.GetTemplates)

	router.GET("/activities", a.GetActivities)
	return a.router
}

func NewAPI(d *docuflow.Docuflow) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{docuflow: d, router: r}
}
