package main

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/koustreak/orma/internal/diag"
	"github.com/koustreak/orma/internal/errs"
)

// DiffCmd prints the pending model changes without writing anything.
type DiffCmd struct{}

func (c *DiffCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	ops, err := rt.Migrations.DiffSchema(e.ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		e.printf("No changes detected.\n")
		return nil
	}
	for _, op := range ops {
		e.printf("  - %s\n", op.Describe())
	}
	return nil
}

// MakemigrationsCmd writes the model diff as migration files.
type MakemigrationsCmd struct {
	Name string `short:"n" help:"Migration name (lowercase letters, digits and underscores)." default:"auto"`
}

func (c *MakemigrationsCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	ops, err := rt.Migrations.DiffSchema(e.ctx)
	if err != nil {
		return err
	}
	migs, err := rt.Migrations.WriteMigration(e.ctx, ops, c.Name)
	if err != nil {
		return err
	}
	if len(migs) == 0 {
		e.printf("No changes detected.\n")
		return nil
	}
	for _, m := range migs {
		e.printf("%s\n", m.ID())
		for _, op := range m.Operations {
			e.printf("  - %s\n", op.Describe())
		}
	}
	return nil
}

// PendingCmd lists unapplied migrations in apply order.
type PendingCmd struct{}

func (c *PendingCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	migs, err := rt.Migrations.PendingMigrations(e.ctx)
	if err != nil {
		return err
	}
	for _, m := range migs {
		e.printf("%s\n", m.ID())
	}
	return nil
}

// MigrateCmd applies every pending migration.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	ran, err := rt.Migrations.Migrate(e.ctx)
	for _, id := range ran {
		e.printf("Applied %s\n", id)
	}
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		e.printf("No migrations to apply.\n")
	}
	return nil
}

// ApplyCmd applies one migration.
type ApplyCmd struct {
	ID string `arg:"" help:"Migration id, e.g. blog/0002_add_tags."`
}

func (c *ApplyCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Migrations.ApplyMigration(e.ctx, c.ID); err != nil {
		return err
	}
	e.printf("Applied %s\n", c.ID)
	return nil
}

// RollbackCmd rolls back one migration.
type RollbackCmd struct {
	ID string `arg:"" help:"Migration id, e.g. blog/0002_add_tags."`
}

func (c *RollbackCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Migrations.RollbackMigration(e.ctx, c.ID); err != nil {
		return err
	}
	e.printf("Rolled back %s\n", c.ID)
	return nil
}

// SqlmigrateCmd prints a migration's SQL without running it.
type SqlmigrateCmd struct {
	ID      string `arg:"" help:"Migration id, e.g. blog/0002_add_tags."`
	Reverse bool   `short:"r" help:"Print the rollback SQL instead."`
}

func (c *SqlmigrateCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	stmts, err := rt.Migrations.RenderSQL(e.ctx, c.ID, c.Reverse)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		e.printf("%s;\n", strings.TrimSuffix(s, ";"))
	}
	return nil
}

// StatusCmd prints one line per migration.
type StatusCmd struct{}

func (c *StatusCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	status, err := rt.Migrations.Status(e.ctx)
	if err != nil {
		return err
	}
	for _, s := range status {
		switch {
		case s.Missing:
			e.printf("[?] %s  applied %s, file missing\n", s.ID, humanize.Time(s.AppliedAt))
		case s.Changed:
			e.printf("[!] %s  applied %s, file changed since\n", s.ID, humanize.Time(s.AppliedAt))
		case s.Applied:
			e.printf("[X] %s  applied %s\n", s.ID, humanize.Time(s.AppliedAt))
		default:
			e.printf("[ ] %s\n", s.ID)
		}
	}
	return nil
}

// VerifyCmd compares the live database with the applied migrations.
type VerifyCmd struct{}

func (c *VerifyCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	drift, err := rt.Migrations.Verify(e.ctx)
	if err != nil {
		return err
	}
	if drift.Empty() {
		e.printf("No drift detected.\n")
		return nil
	}
	for _, group := range []struct {
		label string
		items []string
	}{
		{"missing table", drift.MissingTables},
		{"unexpected table", drift.UnexpectedTables},
		{"missing column", drift.MissingColumns},
		{"unexpected column", drift.UnexpectedColumns},
		{"missing foreign key", drift.MissingForeignKeys},
	} {
		for _, item := range group.items {
			e.printf("  %s %s\n", group.label, item)
		}
	}
	return errs.New(errs.ErrKindMigrationConflict, "database schema differs from the applied migrations")
}

// ServeDiagCmd serves /healthz, /pool and /migrations until interrupted.
type ServeDiagCmd struct {
	Addr string `help:"Listen address. Defaults to diag.addr from the config."`
}

func (c *ServeDiagCmd) Run(e *env) error {
	rt, err := e.open()
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := c.Addr
	if addr == "" {
		addr = rt.Config.Diag.Addr
	}
	return diag.Serve(e.ctx, addr, diag.NewHandler(rt.Pool, rt.Migrations, rt.Log), rt.Log)
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(e *env) error {
	e.printf("orma %s\n", version)
	return nil
}
