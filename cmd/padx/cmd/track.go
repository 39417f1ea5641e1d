package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-padnext/internal/domain/delivery"
	"github.com/drfirst/go-padnext/internal/exchange"
	"github.com/drfirst/go-padnext/internal/infrastructure/sqlite"
)

var (
	trackDB        string
	pendingOlder   time.Duration
	outboundTopics bool
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track sent orders and their receipts in a local journal",
	Long: `The journal is an SQLite file holding every delivery event together with
the messages a relay would publish.

Examples:
  padx track register order_auf.xml
  padx track receipt quittung.xml
  padx track status 123456
  padx track pending --older-than 48h`,
}

var trackRegisterCmd = &cobra.Command{
	Use:   "register [order files...]",
	Short: "Record sent orders",
	Args:  cobra.MinimumNArgs(1),
	RunE: withService(func(ctx context.Context, svc *exchange.Service, args []string) error {
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			sub, err := svc.SubmitDocument(ctx, data, schemaVersion)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if outputFormat == "json" {
				if err := printJSON(sub); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("%06d registered (schema %s)\n", sub.TransferNumber, sub.Version)
		}
		return nil
	}),
}

var trackReceiptCmd = &cobra.Command{
	Use:   "receipt [receipt files...]",
	Short: "Apply receipts to the recorded orders",
	Args:  cobra.MinimumNArgs(1),
	RunE: withService(func(ctx context.Context, svc *exchange.Service, args []string) error {
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out, err := svc.ProcessReceipt(ctx, data, schemaVersion)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if outputFormat == "json" {
				if err := printJSON(out); err != nil {
					return err
				}
				continue
			}
			if out.Orphan {
				fmt.Printf("%06d: no order recorded, receipt kept as orphan\n", out.TransferNumber)
				continue
			}
			fmt.Printf("%06d %s (status %d)\n", out.TransferNumber, out.State, out.Delivery.Status)
			if out.Delivery.FileCountMismatch {
				fmt.Printf("  receiver counted %d file(s), order declared %d\n",
					out.Delivery.ReceivedFiles, out.Delivery.DeclaredFiles)
			}
		}
		return nil
	}),
}

var trackStatusCmd = &cobra.Command{
	Use:   "status [transfer number]",
	Short: "Show one delivery, or all when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: withService(func(ctx context.Context, svc *exchange.Service, args []string) error {
		if len(args) == 0 {
			return printDeliveries(svc.Deliveries())
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("transfer number must be numeric: %q", args[0])
		}
		d, ok, err := svc.Lookup(ctx, n)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%06d is not tracked", n)
		}
		return printDeliveries([]delivery.Delivery{d})
	}),
}

var trackPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List orders still waiting for their receipt",
	Args:  cobra.NoArgs,
	RunE: withService(func(_ context.Context, svc *exchange.Service, _ []string) error {
		return printDeliveries(svc.Pending(pendingOlder))
	}),
}

var trackOutboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "List the messages recorded for publishing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := sqlite.Open(trackDB, newLogger())
		if err != nil {
			return err
		}
		defer store.Close()
		msgs, err := store.Outbound(commandContext(cmd))
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(msgs)
		}
		for _, m := range msgs {
			if outboundTopics {
				fmt.Printf("%-28s ", m.Topic)
			}
			fmt.Printf("%s %-20s %d bytes\n", m.Key, m.EventType, len(m.Payload))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trackCmd)
	trackCmd.AddCommand(trackRegisterCmd, trackReceiptCmd, trackStatusCmd, trackPendingCmd, trackOutboxCmd)

	trackCmd.PersistentFlags().StringVar(&trackDB, "db", "padnext.db", "Journal database file")
	trackPendingCmd.Flags().DurationVar(&pendingOlder, "older-than", 0, "Only orders sent at least this long ago")
	trackOutboxCmd.Flags().BoolVar(&outboundTopics, "topics", false, "Show the target topic")
}

// withService opens the journal, restores the tracker and runs fn
func withService(fn func(ctx context.Context, svc *exchange.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		store, err := sqlite.Open(trackDB, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		cfg := exchange.DefaultConfig()
		if schemaVersion != "" {
			cfg.Version = schemaVersion
		}
		svc, err := exchange.NewService(cfg, nil, delivery.NewTracker(), store, nil, logger)
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		if _, err := svc.Restore(ctx); err != nil {
			return err
		}
		logger.Debug("journal loaded", zap.String("db", trackDB))
		return fn(ctx, svc, args)
	}
}

func printDeliveries(ds []delivery.Delivery) error {
	if outputFormat == "json" {
		if ds == nil {
			ds = []delivery.Delivery{}
		}
		return printJSON(ds)
	}
	for _, d := range ds {
		fmt.Printf("%06d %-12s sender %d recipient %d sent %s",
			d.TransferNumber, d.State, d.SenderID, d.RecipientID, formatTime(d.SentAt))
		if d.State != delivery.StateSent {
			fmt.Printf(" status %d receipts %d", d.Status, d.Receipts)
		}
		fmt.Println()
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
