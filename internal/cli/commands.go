package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/depot-reserve/internal/config"
	"github.com/ChuLiYu/depot-reserve/internal/server"
	"github.com/ChuLiYu/depot-reserve/internal/status"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// ============================================================================
// submit / result
// ============================================================================

// orderInput is one entry of a submit file.
type orderInput struct {
	types.Order
	Priority int `json:"priority"`
}

func buildSubmitCommand() *cobra.Command {
	var orderFile string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue work orders from a JSON file",
		Long: `Read orders from a JSON file and queue them on a running depot.

  [
    {"id": "pick-1001", "type_id": 1, "priority": 5,
     "rows": [{"row_number": 1, "product_ref": "SKU-1001", "requested_qty": 4}]}
  ]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := readOrders(orderFile)
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *server.Client) error {
				return submitOrders(ctx, c, orders, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVarP(&orderFile, "file", "f", "", "JSON file containing orders")
	cmd.MarkFlagRequired("file")
	return cmd
}

func readOrders(path string) ([]orderInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read order file: %w", err)
	}
	var orders []orderInput
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("failed to parse order file: %w", err)
	}
	return orders, nil
}

func submitOrders(ctx context.Context, c *server.Client, orders []orderInput, w io.Writer) error {
	ok := 0
	for _, o := range orders {
		if err := c.SubmitOrder(ctx, o.Order, o.Priority); err != nil {
			fmt.Fprintf(w, "order %s rejected: %v\n", o.ID, err)
			continue
		}
		ok++
	}
	fmt.Fprintf(w, "Submitted %d/%d orders\n", ok, len(orders))
	if ok < len(orders) {
		return fmt.Errorf("%d orders rejected", len(orders)-ok)
	}
	return nil
}

func buildResultCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "result <order-id>",
		Short: "Show the reservation outcome of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *server.Client) error {
				out, err := c.OrderResult(ctx, types.OrderID(args[0]))
				if err != nil {
					return err
				}
				printOutcome(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func printOutcome(w io.Writer, out types.OrderOutcome) {
	fmt.Fprintf(w, "Order %s (type %d): %s\n", out.OrderID, out.TypeID, out.Outcome)
	if out.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", out.Error)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range out.Results {
		fmt.Fprintf(tw, "  row %d\t%s\t%d\t%s\n", r.RowNumber, r.Outcome, r.ReservedQty, r.Reason)
	}
	tw.Flush()
}

// ============================================================================
// jobs
// ============================================================================

func buildJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Operate scheduled jobs",
	}

	batch := func(use, short string, call func(*server.Client, context.Context, ...types.JobID) (server.BatchReply, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <job-id>...",
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(func(ctx context.Context, c *server.Client) error {
					reply, err := call(c, ctx, jobIDs(args)...)
					if err != nil {
						return err
					}
					return printBatch(cmd.OutOrStdout(), reply)
				})
			},
		}
	}
	single := func(use, short string, call func(*server.Client, context.Context, types.JobID) (server.JobReply, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <job-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(func(ctx context.Context, c *server.Client) error {
					reply, err := call(c, ctx, types.JobID(args[0]))
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", reply.JobID, reply.State)
					return nil
				})
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List jobs with their state",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(func(ctx context.Context, c *server.Client) error {
					report, err := c.Status(ctx)
					if err != nil {
						return err
					}
					printJobs(cmd.OutOrStdout(), report)
					return nil
				})
			},
		},
		batch("enable", "Enable jobs", (*server.Client).EnableJobs),
		batch("disable", "Disable jobs", (*server.Client).DisableJobs),
		batch("clear", "Clear the last error of jobs", (*server.Client).ClearJobErrors),
		single("execute", "Run a job now", (*server.Client).ExecuteJob),
		single("interrupt", "Interrupt a running job", (*server.Client).InterruptJob),
		single("delete", "Delete a job", (*server.Client).DeleteJob),
		&cobra.Command{
			Use:   "restore",
			Short: "Restore the default job set",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(func(ctx context.Context, c *server.Client) error {
					reply, err := c.RestoreDefaults(ctx)
					if err != nil {
						return err
					}
					return printBatch(cmd.OutOrStdout(), reply)
				})
			},
		},
	)
	return cmd
}

func jobIDs(args []string) []types.JobID {
	ids := make([]types.JobID, len(args))
	for i, a := range args {
		ids[i] = types.JobID(a)
	}
	return ids
}

// printBatch prints per-id results and fails when any id was rejected.
func printBatch(w io.Writer, reply server.BatchReply) error {
	cmd := strings.ToLower(reply.Command)
	for _, id := range reply.Succeeded {
		fmt.Fprintf(w, "%s %s: ok\n", cmd, id)
	}
	for _, f := range reply.Failed {
		fmt.Fprintf(w, "%s %s: %s\n", cmd, f.JobID, f.Error)
	}
	if len(reply.Failed) > 0 {
		return fmt.Errorf("%d of %d jobs rejected", len(reply.Failed), len(reply.Failed)+len(reply.Succeeded))
	}
	return nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the job status report",
		Long:  "Display job states, counts per state and the latest execution feed lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !watch {
				return withClient(func(ctx context.Context, c *server.Client) error {
					report, err := c.Status(ctx)
					if err != nil {
						return err
					}
					printReport(cmd.OutOrStdout(), report)
					return nil
				})
			}
			return watchStatus(cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until interrupted")
	return cmd
}

func watchStatus(w io.Writer) error {
	interval := config.Default().Status.PollInterval
	if cfg, err := config.Load(configFile); err == nil {
		interval = cfg.Status.PollInterval
	}

	client, err := server.Dial(adminAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		callCtx, cancel := context.WithTimeout(ctx, interval)
		report, err := client.Status(callCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprint(w, "\033[H\033[2J")
		printReport(w, report)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printJobs(w io.Writer, report status.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tTRIGGER\tNEXT RUN\tLAST ERROR")
	for _, j := range report.Jobs {
		next := "-"
		if j.NextRunAt != nil {
			next = j.NextRunAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.State, j.Trigger, next, j.LastErrorMessage)
	}
	tw.Flush()
}

func printReport(w io.Writer, report status.Report) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                  depot job status                         ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintf(w, "Generated: %s\n\n", report.GeneratedAt.Local().Format(time.DateTime))

	printJobs(w, report)
	fmt.Fprintln(w)

	parts := make([]string, 0, len(types.AllVisualStates))
	for _, s := range types.AllVisualStates {
		parts = append(parts, fmt.Sprintf("%s %d", s, report.Counts[s]))
	}
	fmt.Fprintf(w, "Counts: %s\n", strings.Join(parts, " | "))

	if len(report.Lines) > 0 {
		fmt.Fprintln(w, "\nFeed:")
		for _, l := range report.Lines {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}
