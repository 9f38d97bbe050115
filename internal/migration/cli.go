package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// CLI 渲染 inkflow migrate 子命令的终端输出.
type CLI struct {
	migrator Migrator
	out      io.Writer
}

func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, out: os.Stdout}
}

func (c *CLI) SetOutput(w io.Writer) { c.out = w }

// migrateCommand arg 为 true 时要求一个整数参数.
type migrateCommand struct {
	arg bool
	run func(c *CLI, ctx context.Context, n int) error
}

var migrateCommands = map[string]migrateCommand{
	"up": {run: func(c *CLI, ctx context.Context, _ int) error {
		return c.apply(ctx, "Applying pending migrations", c.migrator.Up)
	}},
	"down": {run: func(c *CLI, ctx context.Context, _ int) error {
		return c.apply(ctx, "Reverting the latest migration", c.migrator.Down)
	}},
	"down-all": {run: func(c *CLI, ctx context.Context, _ int) error {
		return c.apply(ctx, "Reverting every migration", c.migrator.DownAll)
	}},
	"steps": {arg: true, run: func(c *CLI, ctx context.Context, n int) error {
		return c.apply(ctx, fmt.Sprintf("Moving %+d step(s)", n), func(ctx context.Context) error {
			return c.migrator.Steps(ctx, n)
		})
	}},
	"goto": {arg: true, run: func(c *CLI, ctx context.Context, n int) error {
		if n < 0 {
			return fmt.Errorf("goto requires a non-negative version")
		}
		return c.apply(ctx, fmt.Sprintf("Migrating to version %d", n), func(ctx context.Context) error {
			return c.migrator.Goto(ctx, uint(n))
		})
	}},
	"force": {arg: true, run: func(c *CLI, ctx context.Context, n int) error {
		if err := c.migrator.Force(ctx, n); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Version forced to %d\n", n)
		return nil
	}},
	"version": {run: func(c *CLI, ctx context.Context, _ int) error { return c.version(ctx) }},
	"status":  {run: func(c *CLI, ctx context.Context, _ int) error { return c.status(ctx) }},
	"info":    {run: func(c *CLI, ctx context.Context, _ int) error { return c.info(ctx) }},
}

// Run 空命令等同 up.
func (c *CLI) Run(ctx context.Context, command string, args []string) error {
	if command == "" {
		command = "up"
	}
	cmd, ok := migrateCommands[command]
	if !ok {
		return fmt.Errorf("unknown migrate command: %s", command)
	}
	n := 0
	if cmd.arg {
		if len(args) == 0 {
			return fmt.Errorf("%s requires a numeric argument", command)
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid argument %q for %s: %w", args[0], command, err)
		}
		n = v
	}
	return cmd.run(c, ctx, n)
}

func (c *CLI) apply(ctx context.Context, what string, fn func(context.Context) error) error {
	fmt.Fprintf(c.out, "%s...\n", what)
	if err := fn(ctx); err != nil {
		return err
	}
	v, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Done. Current version: %d\n", v)
	return nil
}

func (c *CLI) version(ctx context.Context) error {
	v, dirty, err := c.migrator.Version(ctx)
	switch {
	case err != nil:
		return err
	case v == 0:
		fmt.Fprintln(c.out, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.out, "Current version: %d (dirty, run force after fixing the schema)\n", v)
	default:
		fmt.Fprintf(c.out, "Current version: %d\n", v)
	}
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	rows, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, r := range rows {
		state := "pending"
		if r.Applied {
			applied++
			state = "applied"
		}
		if r.Dirty {
			state = "dirty"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", r.Version, r.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", len(rows), applied, len(rows)-applied)
	return nil
}

func (c *CLI) info(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 1, ' ', 0)
	for _, kv := range [][2]any{
		{"current version", info.CurrentVersion},
		{"dirty", info.Dirty},
		{"total", info.TotalMigrations},
		{"applied", info.AppliedMigrations},
		{"pending", info.PendingMigrations},
	} {
		fmt.Fprintf(tw, "%s:\t%v\n", kv[0], kv[1])
	}
	return tw.Flush()
}
