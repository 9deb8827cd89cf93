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

package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/docuflowhq/docuflow/api"
)

func initializeRouter(d *docuflowInstance) *gin.Engine {
	return api.NewAPI(d.docuflow).Router()
}

// serverCommands defines the "start" command that runs the HTTP API.
func serverCommands(d *docuflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start docuflow server",
		Run: func(cmd *cobra.Command, args []string) {
			router := initializeRouter(d)

			server := &http.Server{
				Addr:    ":" + d.cnf.Server.Port,
				Handler: router,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				log.Printf("Starting server on %s", d.cnf.Server.Port)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			log.Println("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("Server shutdown error: %v", err)
			}
		},
	}

	return cmd
}
