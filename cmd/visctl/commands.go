package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/brandlens/visibility-bot/internal/app"
	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/brandlens/visibility-bot/internal/providers"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.DB.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		})
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect configured LLM providers",
}

var providersCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Send a probe prompt to every enabled provider",
	RunE:  runProvidersCheck,
}

func runProvidersCheck(cmd *cobra.Command, args []string) error {
	prompt, _ := cmd.Flags().GetString("prompt")
	provs := providers.NewFromConfig(cfg)
	if len(provs) == 0 {
		return eris.New("no providers enabled")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ProviderTimeout)
	defer cancel()

	type probe struct {
		resp     models.ProviderResponse
		duration time.Duration
	}
	probes := make([]probe, len(provs))
	var wg sync.WaitGroup
	for i, p := range provs {
		wg.Add(1)
		go func(i int, p providers.Provider) {
			defer wg.Done()
			start := time.Now()
			probes[i] = probe{
				resp:     p.Invoke(ctx, providers.PromptRequest{PromptID: "probe", Content: prompt}),
				duration: time.Since(start),
			}
		}(i, p)
	}
	wg.Wait()

	failed := 0
	out := cmd.OutOrStdout()
	for _, pr := range probes {
		if pr.resp.Succeeded() {
			fmt.Fprintf(out, "%-12s ok      %6s  %d results\n", pr.resp.Provider, pr.duration.Round(time.Millisecond), len(pr.resp.Results))
			continue
		}
		failed++
		fmt.Fprintf(out, "%-12s FAILED  %6s  %s\n", pr.resp.Provider, pr.duration.Round(time.Millisecond), pr.resp.Error)
	}
	if failed > 0 {
		return eris.Errorf("%d of %d providers failed", failed, len(probes))
	}
	return nil
}

var processCmd = &cobra.Command{
	Use:   "process <prompt-id>",
	Short: "Run one prompt through every provider and score it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			outcome, err := a.Monitoring.ProcessPrompt(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, outcome)
		})
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run mention extraction for a user, optionally narrowed to a topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		topic, _ := cmd.Flags().GetString("topic")
		if strings.TrimSpace(user) == "" {
			return eris.New("--user is required")
		}

		return withApp(func(ctx context.Context, a *app.App) error {
			result, err := a.Monitoring.RunExtraction(ctx, models.Scope{UserID: user, TopicID: topic})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Read archived raw provider responses",
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <prompt-id>",
	Short: "Print every archived provider response of a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			responses, err := a.Monitoring.ArchivedResponses(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, responses)
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build the visibility and competitive report of a topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		send, _ := cmd.Flags().GetBool("send")
		if topic == "" {
			return eris.New("--topic is required")
		}

		return withApp(func(ctx context.Context, a *app.App) error {
			report, err := a.Monitoring.TopicReport(ctx, topic)
			if err != nil {
				return err
			}
			if send {
				if err := a.Notifier.SendReport(ctx, report); err != nil {
					return err
				}
			}
			return printJSON(cmd, report)
		})
	},
}

func init() {
	providersCheckCmd.Flags().String("prompt", "What are the best project management tools for small teams?", "probe prompt")
	providersCmd.AddCommand(providersCheckCmd)

	extractCmd.Flags().String("user", "", "user id owning the prompts")
	extractCmd.Flags().String("topic", "", "topic id to narrow the run to")

	reportCmd.Flags().String("topic", "", "topic id")
	reportCmd.Flags().Bool("send", false, "also send the report through configured channels")

	archiveCmd.AddCommand(archiveShowCmd)

	rootCmd.AddCommand(migrateCmd, providersCmd, processCmd, extractCmd, archiveCmd, reportCmd)
}
