package cli

import (
	"fmt"
	"os"

	"github.com/erg0nix/palaver/internal/config"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE:  runInitCmd,
	}
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	path := defaultConfigPath()
	if cmd != nil {
		if flagPath, _ := cmd.Flags().GetString("config"); flagPath != "" {
			path = flagPath
		}
	}

	return writeDefaultConfig(path)
}

func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; remove it first to regenerate", path)
	}

	if err := config.Write(path, config.Default()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Println(styleSuccess.Render("wrote " + path))
	fmt.Println(styleDim.Render("set telegram.token or BOT_TOKEN, then run: palaver serve"))
	return nil
}
