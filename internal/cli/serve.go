package cli

import (
	"github.com/erg0nix/palaver/internal/app"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot",
		RunE:  runServeCmd,
	}

	cmd.Flags().Bool("foreground", false, "run the bot in the foreground")
	cmd.Flags().String("admin-bind", "", "admin gRPC bind address (overrides config)")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	foreground, _ := cmd.Flags().GetBool("foreground")
	adminBind, _ := cmd.Flags().GetString("admin-bind")

	if adminBind != "" {
		a.Config.Admin.Bind = adminBind
		a.AdminBind = adminBind
	}

	if foreground {
		return app.RunServer(a.Config)
	}

	return startServer(a)
}
