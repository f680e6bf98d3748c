package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"spendlog/internal/client"
	"spendlog/internal/core"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootFlags := ff.NewFlagSet("spendlog-cli")
	var (
		baseURL = rootFlags.StringLong("url", "http://localhost:4000", "expense service base URL")
		timeout = rootFlags.DurationLong("timeout", 15*time.Second, "timeout for a single request")
		retries = rootFlags.IntLong("retries", 2, "retries after a failed create")
		verbose = rootFlags.BoolLong("verbose", "log retry attempts to stderr")
	)

	newClient := func() *client.Client {
		level := slog.LevelError
		if *verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
		n := *retries
		if n < 0 {
			n = 0
		}
		return client.New(*baseURL,
			client.WithAttemptTimeout(*timeout),
			client.WithRetry(2*time.Second, uint64(n)),
			client.WithLogger(logger))
	}

	root := &ff.Command{
		Name:      "spendlog-cli",
		Usage:     "spendlog-cli [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "record and list expenses",
		Flags:     rootFlags,
	}

	addFlags := ff.NewFlagSet("add").SetParent(rootFlags)
	var (
		amount      = addFlags.StringLong("amount", "", "amount in major units, e.g. 12.34")
		category    = addFlags.StringLong("category", "", "expense category")
		description = addFlags.StringLong("description", "", "optional description")
		date        = addFlags.StringLong("date", "", "expense date YYYY-MM-DD (default today)")
		key         = addFlags.StringLong("key", "", "idempotency key (default generated)")
	)
	add := &ff.Command{
		Name:      "add",
		Usage:     "spendlog-cli add --amount 12.34 --category Food [FLAGS]",
		ShortHelp: "record an expense",
		Flags:     addFlags,
		Exec: func(ctx context.Context, _ []string) error {
			cents, err := core.ParseDecimalToCents(*amount)
			if err != nil {
				return fmt.Errorf("amount %q: %w", *amount, err)
			}
			d := *date
			if d == "" {
				d = time.Now().Format(core.DateLayout)
			}
			k := *key
			if k == "" {
				k = uuid.NewString()
			}
			in := core.NewExpense{
				Amount:         core.Money{Cents: cents},
				Category:       *category,
				Description:    *description,
				Date:           d,
				IdempotencyKey: k,
			}
			in = in.Normalize()
			if err := in.Validate(); err != nil {
				return err
			}
			e, created, err := newClient().CreateExpense(ctx, in)
			if err != nil {
				return err
			}
			verb := "created"
			if !created {
				verb = "already recorded"
			}
			fmt.Fprintf(stdout, "%s %s: %s %s %s\n", verb, e.ID, e.Date, e.Category, core.FormatAmount(e.Amount.Cents, ""))
			return nil
		},
	}

	listFlags := ff.NewFlagSet("list").SetParent(rootFlags)
	var (
		listCategory = listFlags.StringLong("category", "", "only this category")
		newest       = listFlags.BoolLong("newest", "newest first")
		symbol       = listFlags.StringLong("currency", "", "currency symbol for amounts")
	)
	list := &ff.Command{
		Name:      "list",
		Usage:     "spendlog-cli list [FLAGS]",
		ShortHelp: "list expenses with a per-category summary",
		Flags:     listFlags,
		Exec: func(ctx context.Context, _ []string) error {
			f := core.ListFilter{Category: *listCategory}
			if *newest {
				f.Sort = core.SortDateDesc
			}
			items, err := newClient().ListExpenses(ctx, f)
			if err != nil {
				return err
			}
			printList(stdout, items, *symbol)
			return nil
		},
	}

	root.Subcommands = []*ff.Command{add, list}

	if err := root.Parse(args, ff.WithEnvVarPrefix("SPENDLOG")); err != nil {
		selected := root.GetSelected()
		if selected == nil {
			selected = root
		}
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
		return err
	}
	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Command(root))
		}
		return err
	}
	return nil
}

func printList(w io.Writer, items []core.Expense, symbol string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Date, e.Category, core.FormatAmount(e.Amount.Cents, symbol), e.Description)
	}
	tw.Flush()

	s := core.Summarize(items)
	fmt.Fprintf(w, "\nTotal: %s (%d)\n", s.Total.Format(symbol), s.Count)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range s.ByCategory {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Name, c.Amount.Format(symbol), c.Count)
	}
	tw.Flush()
}
