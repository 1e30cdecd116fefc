package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stenstromen/wikiexport/api"
	"github.com/stenstromen/wikiexport/handler"
	"github.com/stenstromen/wikiexport/types"
	"github.com/stenstromen/wikiexport/ui"
	"go.uber.org/zap"
)

func newExportCmd(flags *globalFlags) *cobra.Command {
	var format string
	var skipCheck bool

	c := &cobra.Command{
		Use:   "export <wiki-url>... [--format PDF|MARKDOWN|HTML]",
		Short: "Exports one or more GitHub wikis, one request at a time.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, cleanup, err := setup(ctx, flags)
			if err != nil {
				return err
			}
			defer cleanup()

			client := api.New(api.Options{
				BaseURL: env.cfg.APIURL,
				Timeout: env.cfg.Timeout,
				Logger:  env.logger,
			})
			if !skipCheck {
				if err := client.Ping(ctx); err != nil {
					env.logger.Warn("export server check failed", zap.Error(err))
				}
			}

			term := ui.NewTerminal(cmd.OutOrStdout(), env.sink)
			h := handler.New(client, term, env.logger)
			h.FormatChanged(format)

			failed := 0
			for _, wikiURL := range args {
				term.SetInput(wikiURL)
				if outcome := h.Submit(ctx, format); outcome != types.OutcomeDownloaded {
					env.logger.Debug("export did not complete", zap.String("wiki_url", wikiURL), zap.String("outcome", string(outcome)))
					failed++
				}
			}

			if env.cfg.KeepExports > 0 {
				if _, err := env.sink.Prune(ctx, env.cfg.KeepExports); err != nil {
					return fmt.Errorf("error pruning exports: %w", err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d exports failed", failed, len(args))
			}
			return nil
		},
	}
	c.Flags().StringVarP(&format, "format", "f", string(types.DocTypePDF), "Export format: PDF, MARKDOWN or HTML.")
	c.Flags().BoolVar(&skipCheck, "skip-check", false, "Do not check that the export server is reachable first.")
	return c
}
