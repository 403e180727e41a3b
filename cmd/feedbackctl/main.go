// feedbackctl exercises the widget SDK from the command line: submit reports,
// inspect the offline queue, and drain it against a collector.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"feedback-widget/internal/logger"
	"feedback-widget/widget"
)

var (
	flagAPIURL    string
	flagProjectID string
	flagAPIKey    string
	flagStorePath string
	flagVerbose   bool
)

func main() {
	root := &cobra.Command{
		Use:           "feedbackctl",
		Short:         "Submit and sync feedback against a collection endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "collection endpoint URL (default: hosted endpoint)")
	root.PersistentFlags().StringVar(&flagProjectID, "project", os.Getenv("FEEDBACK_PROJECT_ID"), "project id")
	root.PersistentFlags().StringVar(&flagAPIKey, "key", os.Getenv("FEEDBACK_API_KEY"), "API key")
	root.PersistentFlags().StringVar(&flagStorePath, "store", "feedbackctl.db", "SQLite file for the offline queue")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(submitCmd(), pendingCmd(), syncCmd(), onlineCmd(), contextCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newWidget(ctx context.Context) (*widget.Widget, error) {
	cfg := widget.Config{
		ProjectID: flagProjectID,
		APIKey:    flagAPIKey,
		APIURL:    flagAPIURL,
		StorePath: flagStorePath,
	}
	if flagVerbose {
		log := logger.New()
		cfg.Logger = &log
	}
	return widget.New(ctx, cfg)
}

func submitCmd() *cobra.Command {
	var fb widget.Feedback
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one feedback report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := newWidget(ctx)
			if err != nil {
				return err
			}
			defer w.Close()

			resp, err := w.Submit(ctx, fb)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&fb.Type, "type", "bug", "feedback type: bug|feature|design")
	cmd.Flags().StringVar(&fb.Priority, "priority", "medium", "priority: low|medium|high|critical")
	cmd.Flags().StringVar(&fb.Title, "title", "", "short summary")
	cmd.Flags().StringVar(&fb.Description, "description", "", "full description")
	cmd.Flags().StringVar(&fb.Name, "name", "", "submitter name")
	cmd.Flags().StringVar(&fb.Email, "email", "", "submitter email")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show how many submissions wait in the offline queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := newWidget(ctx)
			if err != nil {
				return err
			}
			defer w.Close()
			fmt.Println(w.PendingCount(ctx))
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the offline queue once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := newWidget(ctx)
			if err != nil {
				return err
			}
			defer w.Close()
			return printJSON(w.SyncOffline(ctx))
		},
	}
}

func onlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "Report whether the collection endpoint is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := newWidget(ctx)
			if err != nil {
				return err
			}
			defer w.Close()
			fmt.Println(w.IsOnline())
			return nil
		},
	}
}

func contextCmd() *cobra.Command {
	var custom []string
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show the context snapshot attached to submissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w, err := newWidget(ctx)
			if err != nil {
				return err
			}
			defer w.Close()

			if len(custom) > 0 {
				extra := make(map[string]string, len(custom))
				for _, kv := range custom {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) == 2 {
						extra[parts[0]] = parts[1]
					}
				}
				w.SetContext(extra)
			}
			return printJSON(w.GetContext(ctx))
		},
	}
	cmd.Flags().StringArrayVar(&custom, "set", nil, "custom context entry, key=value")
	return cmd
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
