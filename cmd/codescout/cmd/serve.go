package cmd

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codescout/internal/handler"
)

// newServeCmd serves the request protocol over stdio, watching the
// indexed repositories for changes.
func newServeCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve [repo-path]",
		Short: "Serve the request protocol over stdin/stdout",
		Long: `Serve reads line-delimited JSON request frames from stdin and writes
one response frame per request to stdout. With a repository argument the
repository is indexed before serving; --watch keeps the index coherent
with filesystem changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			// Stdout carries protocol frames; logs go to file and stderr.
			if err := setupLogging(cfg); err != nil {
				return err
			}

			h := handler.New(cfg)
			defer func() { _ = h.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(args) == 1 {
				params, _ := json.Marshal(handler.IndexRepoParams{Path: root})
				resp := h.Handle(ctx, handler.Request{ID: "startup", Method: handler.MethodIndexRepo, Params: params})
				if resp.Status == handler.StatusError {
					return respErr(resp)
				}
			}

			if watch {
				go func() { _ = h.Watch(ctx) }()
			}

			if err := h.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "watch the repository for changes")
	return cmd
}
