package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/erg0nix/palaver/internal/app"
	"github.com/erg0nix/palaver/internal/config"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "palaver",
		Short:         "Telegram chat bot backed by an OpenAI-compatible model",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (.toml or .yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file with BOT_TOKEN and friends")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newPsCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newHistoryCmd())

	return rootCmd
}

func defaultConfigPath() string {
	return filepath.Join(config.Default().DataDir, "config.toml")
}

func loadConfig(path string, envFile string) (config.Config, error) {
	configPath := path
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return cfg, err
	}

	cfg = config.ApplyEnv(cfg, envFile)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func alreadyRunning(cfg config.Config) bool {
	return app.ReadPID(cfg.PIDFile()) != 0
}

func printServerNotRunning(cfg config.Config) {
	fmt.Println(styleError.Render("palaver is not running"))
	fmt.Println("start with: " + styleCommand.Render("palaver serve"))
	fmt.Println(styleDim.Render("no live process in " + cfg.PIDFile()))
}

func startServer(a *App) error {
	if alreadyRunning(a.Config) {
		fmt.Println(styleDim.Render(fmt.Sprintf("palaver already running, pid %d", app.ReadPID(a.Config.PIDFile()))))
		return nil
	}

	serverCmd := exec.Command(os.Args[0], serverArgs(a)...)

	logFile := filepath.Join(a.Config.DataDir, "server.log")
	if err := os.MkdirAll(a.Config.DataDir, 0o755); err != nil {
		return fmt.Errorf("start server: create data dir: %w", err)
	}

	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("start server: open log: %w", err)
	}
	defer out.Close()

	serverCmd.Stdout = out
	serverCmd.Stderr = out

	if err := serverCmd.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	fmt.Println(
		styleSuccess.Render("started palaver") + " " +
			stylePID.Render(fmt.Sprintf("pid %d", serverCmd.Process.Pid)) + " " +
			styleDim.Render("log "+logFile))
	return nil
}

// serverArgs are the arguments for the detached `serve --foreground` child.
func serverArgs(a *App) []string {
	args := []string{"serve", "--foreground", "--env-file", a.EnvFile}
	if a.ConfigPath != "" {
		args = append(args, "--config", a.ConfigPath)
	}
	if a.AdminBind != "" {
		args = append(args, "--admin-bind", a.AdminBind)
	}
	return args
}
