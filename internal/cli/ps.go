package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss/table"

	"github.com/erg0nix/palaver/internal/admin"
	"github.com/erg0nix/palaver/internal/app"
	"github.com/erg0nix/palaver/internal/config"

	"github.com/spf13/cobra"
)

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "Show the bot process and its health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}

			t := newTable("NAME", "STATUS", "PID", "ADMIN", "HEALTH")
			addServerRow(cmd.Context(), t, a.Config)

			fmt.Println(t.Render())
			return nil
		},
	}
}

func addServerRow(ctx context.Context, t *table.Table, cfg config.Config) {
	pid := app.ReadPID(cfg.PIDFile())
	if pid == 0 {
		t.Row("palaver", styleError.Render("stopped"), "-", cfg.Admin.Bind, "-")
		return
	}

	health, err := admin.Check(ctx, cfg.Admin.Bind)
	if err != nil {
		health = "unreachable"
	}

	status := styleSuccess.Render("running")
	if health != "SERVING" {
		status = styleWarning.Render("starting")
	}

	t.Row("palaver",
		status,
		fmt.Sprintf("%d", pid),
		cfg.Admin.Bind,
		health)
}
