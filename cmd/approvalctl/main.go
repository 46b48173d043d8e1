package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/quote-approvals/cmd/approvalctl/cli"
	"github.com/odyssey-erp/quote-approvals/internal/app"
	"github.com/odyssey-erp/quote-approvals/internal/approval"
	"github.com/odyssey-erp/quote-approvals/internal/platform/db"
)

const usage = `usage:
  approvalctl limits check [--json]
  approvalctl jobs trigger <%s>
  approvalctl jobs stats
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	switch args[0] + " " + args[1] {
	case "limits check":
		fs := flag.NewFlagSet("limits check", flag.ContinueOnError)
		fs.SetOutput(stderr)
		jsonOut := fs.Bool("json", false, "print JSON summary")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return 1
		}
		defer pool.Close()
		limits, err := cli.NewLimitsCLI(approval.NewRepository(pool), cfg.Threshold())
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		return limits.CheckCommand(ctx, cli.LimitsCheckOptions{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})

	case "jobs trigger", "jobs stats":
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		client := asynq.NewClient(redisOpts)
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			_ = inspector.Close()
			_ = client.Close()
		}()
		jobsCLI := cli.NewJobsCLI(client, inspector)

		if args[1] == "stats" {
			stats, err := jobsCLI.InspectQueue()
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
				return 1
			}
			_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			return 0
		}
		if len(args) < 3 {
			printUsage(stderr)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[2])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	}
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, usage, strings.Join(cli.TriggerableJobs(), "|"))
}
