package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samvad-hq/samvad-digest-feeds/internal/app"
	"github.com/samvad-hq/samvad-digest-feeds/internal/config"
	"github.com/samvad-hq/samvad-digest-feeds/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "digestfeed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rootCmd().ExecuteContext(ctx)
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "digestfeed",
		Short:         "Collect fresh articles from topic RSS feeds through public CORS proxies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(collectCmd())
	root.AddCommand(textCmd())
	root.AddCommand(topicsCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(cacheCmd())
	return root
}

// withCollector loads config and logging, builds the collector and hands it to fn.
func withCollector(cmd *cobra.Command, fn func(ctx context.Context, c *app.Collector) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx := cmd.Context()
	c, err := app.NewCollector(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize collector", "error", err.Error())
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			logger.WarnObj("collector close failed", "error", cerr.Error())
		}
	}()

	return fn(ctx, c)
}

func collectCmd() *cobra.Command {
	var topicList string
	var publish bool

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Print the deduplicated article list for topics as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids := config.SplitList(topicList)
			return withCollector(cmd, func(ctx context.Context, c *app.Collector) error {
				if len(ids) == 0 {
					return fmt.Errorf("no topics given, use --topics a,b")
				}

				articles, err := c.Collect(ctx, ids)
				if errors.Is(err, app.ErrNoArticles) {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
				if err := writeJSON(cmd.OutOrStdout(), articles); err != nil {
					return err
				}

				if publish && len(articles) > 0 {
					if c.PublisherCount() == 0 {
						fmt.Fprintln(cmd.ErrOrStderr(), "warning: --publish given but no publishers are enabled")
						return nil
					}
					if _, err := c.Publish(ctx, ids, articles); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: publishing failed: %v\n", err)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&topicList, "topics", "t", "", "comma separated topic ids")
	cmd.Flags().BoolVar(&publish, "publish", false, "also send articles to enabled publishers")
	return cmd
}

func textCmd() *cobra.Command {
	var asPage bool

	cmd := &cobra.Command{
		Use:   "text <url>",
		Short: "Fetch a URL through the proxy chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(args[0])
			return withCollector(cmd, func(ctx context.Context, c *app.Collector) error {
				if asPage {
					page, ok := c.ReadLink(ctx, target)
					if !ok {
						return fmt.Errorf("could not read %s", target)
					}
					return writeJSON(cmd.OutOrStdout(), page)
				}

				body, ok := c.FetchText(ctx, target)
				if !ok {
					return fmt.Errorf("all proxies failed for %s", target)
				}
				_, err := io.WriteString(cmd.OutOrStdout(), body)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&asPage, "page", false, "extract title, description, image and text as JSON")
	return cmd
}

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List configured topics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCollector(cmd, func(_ context.Context, c *app.Collector) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tFEEDS")
				for _, t := range c.Topics() {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", t.ID, t.Name, t.Category, len(t.RSSURLs))
				}
				return tw.Flush()
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Collect default topics periodically and publish them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCollector(cmd, func(ctx context.Context, c *app.Collector) error {
				if err := c.Run(ctx); err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				return nil
			})
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the feed cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Remove every cached feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCollector(cmd, func(_ context.Context, c *app.Collector) error {
				n, err := c.PurgeCache()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached feeds\n", n)
				return nil
			})
		},
	})
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
