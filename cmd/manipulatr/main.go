// Command manipulatr renders HTML documents, replacing every image tagged
// with data-manipulatr-* attributes by its transformed data URL.
//
// Usage:
//
//	manipulatr render -i page.html -o out.html
//	manipulatr render -i page.html -o s3://sites/page.html --watch
//	manipulatr transforms
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dunamismax/manipulatr/internal/app"
	"github.com/dunamismax/manipulatr/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "manipulatr:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "manipulatr",
		Short:         "Declarative image transforms for HTML documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")

	open := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return app.New(cmd.Context(), cfg)
	}

	root.AddCommand(newRenderCmd(open), newTransformsCmd(open))
	return root
}

// opener builds the application for a subcommand. Callers close it.
type opener func(cmd *cobra.Command) (*app.App, error)
