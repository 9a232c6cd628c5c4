// Command orma manages schema migrations for models described in a YAML
// document and serves read-only diagnostics.
//
//	orma diff                      # operations the models need
//	orma makemigrations -n add_tags
//	orma migrate
//	orma sqlmigrate blog/0002_add_tags
//	orma status
//	orma verify
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/koustreak/orma/internal/bootstrap"
	"github.com/koustreak/orma/internal/config"
	"github.com/koustreak/orma/internal/logger"
)

const version = "0.1.0"

// CLI defines the command-line interface.
type CLI struct {
	Config   string `short:"c" help:"Config file. Defaults to ./orma.yaml when present." type:"path"`
	LogLevel string `name:"log-level" help:"Override log.level (debug, info, warn, error)."`

	Diff           DiffCmd           `cmd:"" help:"Show the operations that bring the migration files up to date with the models."`
	Makemigrations MakemigrationsCmd `cmd:"" help:"Write new migration files from the model diff."`
	Pending        PendingCmd        `cmd:"" help:"List migrations not applied to the database."`
	Migrate        MigrateCmd        `cmd:"" help:"Apply every pending migration."`
	Apply          ApplyCmd          `cmd:"" help:"Apply one migration."`
	Rollback       RollbackCmd       `cmd:"" help:"Roll back one applied migration."`
	Sqlmigrate     SqlmigrateCmd     `cmd:"" help:"Print the SQL a migration runs."`
	Status         StatusCmd         `cmd:"" help:"Show applied, pending, changed and missing migrations."`
	Verify         VerifyCmd         `cmd:"" help:"Compare the live schema with the applied migrations."`
	ServeDiag      ServeDiagCmd      `cmd:"" name:"serve-diag" help:"Serve read-only diagnostics over HTTP."`
	Version        VersionCmd        `cmd:"" help:"Print version information."`
}

// env is bound into every command's Run.
type env struct {
	ctx    context.Context
	cli    *CLI
	stdout io.Writer
	stderr io.Writer
}

// open loads the configuration and wires the runtime.
func (e *env) open() (*bootstrap.Runtime, error) {
	cfg, err := config.Load(e.cli.Config)
	if err != nil {
		return nil, err
	}
	lc := cfg.LoggerConfig()
	if e.cli.LogLevel != "" {
		lc.Level = e.cli.LogLevel
	}
	lc.Output = e.stderr
	return bootstrap.Open(e.ctx, cfg, logger.New(lc))
}

func (e *env) printf(format string, args ...any) {
	fmt.Fprintf(e.stdout, format, args...)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("orma"),
		kong.Description("Schema migrations and diagnostics for orma models."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run(&env{ctx: ctx, cli: &cli, stdout: stdout, stderr: stderr})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "orma:", err)
		os.Exit(1)
	}
}
