package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cl "rotation/internal/cli"
	"rotation/internal/config"

	"github.com/spf13/cobra"
)

type connection struct {
	apiBase string
	token   string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	conn := &connection{apiBase: cfg.APIBaseURL, token: cfg.APIToken}
	if profile, err := cl.LoadProfile(); err == nil {
		if os.Getenv("ROT_API_BASE_URL") == "" && profile.APIBaseURL != "" {
			conn.apiBase = profile.APIBaseURL
		}
		if conn.token == "" {
			conn.token = profile.APIToken
		}
	}

	root := &cobra.Command{
		Use:          "rot",
		Short:        "Rotation turn engine client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&conn.apiBase, "api", conn.apiBase, "API base URL")
	root.PersistentFlags().StringVar(&conn.token, "token", conn.token, "trigger bearer token")

	root.AddCommand(
		newStatusCmd(conn),
		newAdvanceCmd(conn),
		newChartsCmd(conn),
		newMovementCmd(conn),
		newWatchCmd(conn),
		newProfileCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(conn *connection) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(conn.apiBase), "/"), strings.TrimSpace(conn.token))
}

func newStatusCmd(conn *connection) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current turn and time until the next boundary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			st, err := newClient(conn).Status(ctx)
			if err != nil {
				return err
			}
			renderStatus(st)
			return nil
		},
	}
}

func newAdvanceCmd(conn *connection) *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Attempt a turn advance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(conn).Advance(ctx)
			if out.Status != "" {
				renderAdvance(out)
			}
			return err
		},
	}
}

func newChartsCmd(conn *connection) *cobra.Command {
	var (
		turnNumber int64
		subject    int64
	)
	cmd := &cobra.Command{
		Use:   "charts [TYPE]",
		Short: "List chart types or show one chart",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(conn)
			if len(args) == 0 {
				specs, err := client.ListCharts(ctx)
				if err != nil {
					return err
				}
				renderChartList(specs)
				return nil
			}
			page, err := client.Chart(ctx, strings.TrimSpace(args[0]), turnNumber, subject)
			if err != nil {
				return err
			}
			renderChart(page)
			return nil
		},
	}
	cmd.Flags().Int64Var(&turnNumber, "turn", -1, "turn number (latest when omitted)")
	cmd.Flags().Int64Var(&subject, "subject", 0, "only show this track or entity id")
	return cmd
}

func newMovementCmd(conn *connection) *cobra.Command {
	var (
		turnNumber int64
		subject    int64
	)
	cmd := &cobra.Command{
		Use:   "movement TYPE",
		Short: "Show position changes since the previous turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			page, err := newClient(conn).Movement(ctx, strings.TrimSpace(args[0]), turnNumber, subject)
			if err != nil {
				return err
			}
			renderMovement(page)
			return nil
		},
	}
	cmd.Flags().Int64Var(&turnNumber, "turn", -1, "turn number (latest when omitted)")
	cmd.Flags().Int64Var(&subject, "subject", 0, "only show this track or entity id")
	return cmd
}

// newWatchCmd polls the turn status and fires the trigger once the boundary
// passes. Several watchers can run at once; the server admits one pass.
func newWatchCmd(conn *connection) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the turn and trigger advances when due",
		RunE: func(cmd *cobra.Command, args []string) error {
			if every <= 0 {
				return errors.New("--every must be positive")
			}
			client := newClient(conn)
			ctx := cmd.Context()
			printInfo(fmt.Sprintf("Watching %s every %s. Ctrl-C to stop.", client.BaseURL, every))
			for {
				wait := watchOnce(ctx, client)
				if wait <= 0 || wait > every {
					wait = every
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 5*time.Second, "maximum poll interval")
	return cmd
}

// watchOnce returns how long to sleep before the next poll.
func watchOnce(ctx context.Context, client *cl.Client) time.Duration {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	st, err := client.Status(reqCtx)
	if err != nil {
		printError(fmt.Sprintf("status failed: %v", err))
		return 0
	}
	if st.RemainingMs > 0 {
		return time.Duration(st.RemainingMs) * time.Millisecond
	}
	out, err := client.Advance(reqCtx)
	if out.Status != "" {
		renderAdvance(out)
	} else if err != nil {
		printError(fmt.Sprintf("advance failed: %v", err))
	}
	return 0
}

func newProfileCmd() *cobra.Command {
	profile := &cobra.Command{
		Use:   "profile",
		Short: "Save or clear the default API endpoint and token",
	}
	var (
		apiBase string
		token   string
	)
	save := &cobra.Command{
		Use:   "save",
		Short: "Save API endpoint and token to ~/.rot/profile.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(apiBase) == "" && strings.TrimSpace(token) == "" {
				var err error
				apiBase, err = promptOptional("API base URL")
				if err != nil {
					return err
				}
				token, err = promptOptional("Trigger token")
				if err != nil {
					return err
				}
			}
			if err := cl.SaveProfile(cl.Profile{APIBaseURL: strings.TrimSpace(apiBase), APIToken: strings.TrimSpace(token)}); err != nil {
				return err
			}
			printSuccess("Profile saved.")
			return nil
		},
	}
	save.Flags().StringVar(&apiBase, "api-base", "", "API base URL")
	save.Flags().StringVar(&token, "api-token", "", "trigger bearer token")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the saved profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearProfile(); err != nil {
				return err
			}
			printSuccess("Profile cleared.")
			return nil
		},
	}
	profile.AddCommand(save, clearCmd)
	return profile
}
