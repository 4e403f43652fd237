package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openpriorauth/a4a-go/pkg/a2a"
	"github.com/openpriorauth/a4a-go/pkg/priorauth"
	"github.com/openpriorauth/a4a-go/pkg/server"
	"github.com/openpriorauth/a4a-go/pkg/stores"
)

var (
	portFlag int
	hostFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the prior authorization agent",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			card := a2a.NewAgentCardFromConfig("priorauth")

			if card.Name == "" {
				return fmt.Errorf("no agent configured under agent.priorauth")
			}

			store := stores.NewInMemoryTaskStore()
			defer store.Close()

			core := server.NewCore(*card, store, priorauth.NewProcessor())
			defer core.Close()

			if secret := viper.GetString("server.jwt_secret"); secret != "" {
				core.Auth = server.JWTAuth([]byte(secret))
			}

			log.Info("agent card loaded", "name", card.Name, "streaming", card.Capabilities.Streaming)

			go func() {
				ticker := time.NewTicker(time.Minute)
				defer ticker.Stop()

				for range ticker.C {
					tasks := store.List(cmd.Context())
					open := 0

					for _, task := range tasks {
						if !task.Status.State.IsTerminal() {
							open++
						}
					}

					log.Info("task store status", "tasks", len(tasks), "open", open)
				}
			}()

			addr := fmt.Sprintf("%s:%d", hostFlag, portFlag)
			return server.NewHTTPServer(core, addr).Start()
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 3210, "Port to serve on")
	serveCmd.Flags().StringVarP(&hostFlag, "host", "H", "0.0.0.0", "Host address to bind to")
}

var longServe = `
Serve the prior authorization agent over HTTP.

Endpoints:
  GET  /.well-known/agent-card   discovery document
  POST /a2a                      JSON-RPC task operations
  GET  /events/:id               SSE snapshot stream for one task

Examples:
  # Serve on the default port
  a4a-go serve

  # Serve on port 8080
  a4a-go serve --port 8080
`
