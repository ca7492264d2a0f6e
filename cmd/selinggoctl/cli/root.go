package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/selinggonet/selinggonet/internal/billing"
	"github.com/selinggonet/selinggonet/internal/platform/db"
)

// InvoiceGenerator runs the monthly invoice procedure directly.
type InvoiceGenerator interface {
	GenerateMonthlyInvoices(ctx context.Context) (billing.GenerationResult, error)
}

// Dependencies builds the backends behind each command.
type Dependencies struct {
	Jobs     func(redisAddr string) (*JobsCLI, error)
	Invoices func(ctx context.Context, dsn string) (InvoiceGenerator, func(), error)
}

// DefaultDependencies connects to the real Redis and PostgreSQL.
func DefaultDependencies() Dependencies {
	return Dependencies{
		Jobs: NewJobsCLI,
		Invoices: func(ctx context.Context, dsn string) (InvoiceGenerator, func(), error) {
			pool, err := db.New(ctx, dsn)
			if err != nil {
				return nil, nil, err
			}
			svc := billing.NewService(billing.NewRepository(pool), nil, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)), billing.ServiceConfig{})
			return svc, pool.Close, nil
		},
	}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	if err := NewRootCommand(DefaultDependencies()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCommand assembles the selinggoctl command tree.
func NewRootCommand(deps Dependencies) *cobra.Command {
	var redisAddr, dsn string
	root := &cobra.Command{
		Use:           "selinggoctl",
		Short:         "Operator tools for the Selinggonet billing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address of the job queue")
	root.PersistentFlags().StringVar(&dsn, "dsn", envOr("PG_DSN", ""), "PostgreSQL connection string")

	jobsCmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}

	triggerCmd := &cobra.Command{
		Use:       "trigger <job>",
		Short:     "Enqueue a job now",
		Example:   "  selinggoctl jobs trigger generate-invoices",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{JobGenerateInvoices, JobCleanupIdempotency},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := deps.Jobs(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on queue %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}

	var asJSON bool
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := deps.Jobs(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			stats, err := c.Stats()
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			}
			return tw.Flush()
		},
	}
	statsCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	var size int
	scheduledCmd := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks of the default queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := deps.Jobs(redisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			tasks, err := c.ListScheduled(size)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no scheduled tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	scheduledCmd.Flags().IntVar(&size, "size", 10, "Number of tasks to list")

	jobsCmd.AddCommand(triggerCmd, statsCmd, scheduledCmd)

	invoicesCmd := &cobra.Command{Use: "invoices", Short: "Invoice maintenance"}
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Run create_monthly_invoices_v2 directly against the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return errors.New("--dsn or PG_DSN is required")
			}
			gen, closeFn, err := deps.Invoices(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			res, err := gen.GenerateMonthlyInvoices(cmd.Context())
			if err != nil {
				return err
			}
			msg := res.Message
			if msg == "" {
				msg = "monthly invoices generated"
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	invoicesCmd.AddCommand(generateCmd)

	root.AddCommand(jobsCmd, invoicesCmd)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
