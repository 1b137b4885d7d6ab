package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sitebill/sitebill/cmd/sitebillctl/cli"
	"github.com/sitebill/sitebill/internal/app"
	"github.com/sitebill/sitebill/internal/platform/db"
)

const usage = `usage: sitebillctl <command>

commands:
  migrate up|down|steps N|force V|version
  jobs trigger invoice:archive <invoice-id>
  jobs trigger idempotency:cleanup [retention]
  jobs stats`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "migrate":
		m, err := db.NewMigrator(cfg.PGDSN)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer func() { _, _ = m.Close() }()
		return cli.MigrateCommand(m, args[1:], os.Stdout, os.Stderr)
	case "jobs":
		return runJobs(ctx, cfg.RedisAddr, args[1:])
	default:
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func runJobs(ctx context.Context, redisAddr string, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	jc := cli.NewJobsCLI(redisAddr)
	defer func() { _ = jc.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(os.Stderr, "jobs trigger: job name required")
			return 2
		}
		info, err := jc.Trigger(ctx, args[1], args[2:])
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jc.InspectQueues()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		cli.PrintStats(os.Stdout, stats)
	default:
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	return 0
}
