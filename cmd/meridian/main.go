package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meridian-pos/meridian-pos/cmd/meridian/cli"
	"github.com/meridian-pos/meridian-pos/internal/app"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/cache"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/platform/lock"
	"github.com/meridian-pos/meridian-pos/internal/sequence"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

const usage = `usage: meridian <command> [flags]

commands:
  counter-register  -id <counter> [-floor <n>]
  book-register     -start <serial> -end <serial>
  book-activate     -id <book>
  book-deactivate   -id <book>
  books
  allocate          -counter <id>
  allocate-serial
  void-request      -subject <ref> -actor <id>
  void-approve      -subject <ref> -actor <id>
  void-reject       -subject <ref> -actor <id>
  timeline          [-subject <ref>] [-page <n>]
  jobs-trigger      -name <task>
  jobs-stats
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, command string, args []string) error {
	switch command {
	case "jobs-trigger", "jobs-stats":
		return runJobs(ctx, cfg, command, args)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	locks := lock.NewRedis(redisClient, cfg.LockWait, cfg.LockLease)
	allocator := sequence.NewAllocator(sequence.NewRepository(pool), locks, cfg.CounterFloor)
	auditSvc := audit.NewService(audit.NewRepository(pool), locks, nil)

	seqOps := cli.NewSequenceOpsCLI(allocator)
	auditOps := cli.NewAuditOpsCLI(auditSvc)

	switch command {
	case "counter-register":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.String("id", "", "counter id")
		floor := fs.Int64("floor", cfg.CounterFloor, "initial counter value")
		if err := fs.Parse(args); err != nil {
			return err
		}
		counter, err := seqOps.RegisterCounter(ctx, *id, *floor)
		if err != nil {
			return err
		}
		fmt.Printf("registered counter %s at %d\n", counter.ID, counter.CurrentNumber)
		return nil
	case "book-register":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		start := fs.String("start", "", "first serial")
		end := fs.String("end", "", "last serial")
		if err := fs.Parse(args); err != nil {
			return err
		}
		book, err := seqOps.RegisterBook(ctx, *start, *end)
		if err != nil {
			return err
		}
		fmt.Printf("registered book %d (%s..%s), inactive\n", book.ID, book.SerialStart, book.SerialEnd)
		return nil
	case "book-activate":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.Int64("id", 0, "book id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return seqOps.ActivateBook(ctx, *id)
	case "book-deactivate":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.Int64("id", 0, "book id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return seqOps.DeactivateBook(ctx, *id)
	case "books":
		return seqOps.PrintBooks(ctx, os.Stdout)
	case "allocate":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		counter := fs.String("counter", "", "counter id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		number, err := allocator.AllocateInvoiceNumber(ctx, *counter)
		if err != nil {
			return err
		}
		fmt.Println(number)
		return nil
	case "allocate-serial":
		serial, err := allocator.AllocateSerial(ctx)
		if err != nil {
			return err
		}
		fmt.Println(serial)
		return nil
	case "void-request", "void-approve", "void-reject":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		subject := fs.String("subject", "", "subject ref")
		actor := fs.Int64("actor", 0, "acting user id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		// Identity rides the context so nested records inside the void
		// workflow attribute to the same operator.
		ctx := shared.ContextWithActor(ctx, *actor)
		switch command {
		case "void-request":
			return auditOps.RequestVoid(ctx, *subject, *actor)
		case "void-approve":
			return auditOps.ApproveVoid(ctx, *subject, *actor)
		default:
			return auditOps.RejectVoid(ctx, *subject, *actor)
		}
	case "timeline":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		subject := fs.String("subject", "", "subject ref filter")
		page := fs.Int("page", 1, "page number")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return auditOps.PrintTimeline(ctx, os.Stdout, audit.TimelineFilters{SubjectRef: *subject, Page: *page})
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %s", command)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, command string, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch command {
	case "jobs-trigger":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		name := fs.String("name", "", "task type to enqueue")
		if err := fs.Parse(args); err != nil {
			return err
		}
		info, err := jobsCLI.Trigger(ctx, *name)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	default:
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	}
}
