package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codescout/internal/errors"
	"github.com/Aman-CERP/codescout/internal/handler"
)

// newIndexCmd runs a one-shot index of a repository.
func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [repo-path]",
		Short: "Index a repository and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}

			h := handler.New(cfg)
			defer func() { _ = h.Close() }()

			params, _ := json.Marshal(handler.IndexRepoParams{Path: root})
			resp := h.Handle(cmd.Context(), handler.Request{
				ID: "cli", Method: handler.MethodIndexRepo, Params: params,
			})
			if resp.Status == handler.StatusError {
				return respErr(resp)
			}

			out, _ := json.MarshalIndent(resp.Result, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
	return cmd
}

// newStatusCmd prints the index status of a repository.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [repo-path]",
		Short: "Show index status for a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg); err != nil {
				return err
			}

			h := handler.New(cfg)
			defer func() { _ = h.Close() }()

			// index_repo opens the session and walks the tree to bring
			// the index up to date; get_status then reads the stored counts.
			params, _ := json.Marshal(handler.IndexRepoParams{Path: root})
			resp := h.Handle(cmd.Context(), handler.Request{
				ID: "cli", Method: handler.MethodIndexRepo, Params: params,
			})
			if resp.Status == handler.StatusError {
				return respErr(resp)
			}

			resp = h.Handle(cmd.Context(), handler.Request{ID: "cli", Method: handler.MethodGetStatus})
			if resp.Status == handler.StatusError {
				return respErr(resp)
			}

			out, _ := json.MarshalIndent(resp.Result, "", "  ")
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
}

// respErr converts an error frame back into a structured error so exit
// codes stay faithful.
func respErr(resp handler.Response) error {
	if resp.Error == nil {
		return errors.New(errors.CodeInternal, "request failed", nil)
	}
	return errors.New(resp.Error.Code, resp.Error.Message, nil)
}
