package cli

import (
	"fmt"

	"github.com/erg0nix/palaver/internal/config"
	"github.com/spf13/cobra"
)

type App struct {
	Config     config.Config
	ConfigPath string
	EnvFile    string
	// AdminBind overrides admin.bind for this run only.
	AdminBind  string
}

func newApp(cmd *cobra.Command) (*App, error) {
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := loadConfig(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &App{
		Config:     cfg,
		ConfigPath: configPath,
		EnvFile:    envFile,
	}, nil
}
