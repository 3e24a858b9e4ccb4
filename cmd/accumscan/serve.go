package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coldquant/accumscan/internal/feed"
	httpiface "github.com/coldquant/accumscan/internal/interfaces/http"
)

func serveCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the signal and scan endpoints over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.Feed.WSURL != "" {
				ws := feed.NewWSFeed(a.cfg.Feed.WSURL, a.snap)
				go func() {
					if err := ws.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
						log.Error().Err(err).Msg("ticker feed terminated")
					}
				}()
			}

			handlers := httpiface.NewHandlers(a.pipe, a.scanner, a.version)
			server := httpiface.NewServer(a.cfg.HTTP, handlers, a.metrics)
			return server.Run(cmd.Context())
		},
	}
}
