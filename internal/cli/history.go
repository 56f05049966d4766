package cli

import (
	"fmt"

	"github.com/erg0nix/palaver/internal/app"
	"github.com/erg0nix/palaver/internal/core"
	"github.com/erg0nix/palaver/internal/history"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or wipe stored conversations",
	}

	cmd.PersistentFlags().Int64("user", 0, "telegram user id")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print a user's conversation",
		RunE:  runHistoryShowCmd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete a user's conversation",
		RunE:  runHistoryClearCmd,
	})

	return cmd
}

func openHistory(cmd *cobra.Command) (*app.Stores, core.UserID, error) {
	a, err := newApp(cmd)
	if err != nil {
		return nil, 0, err
	}

	user, _ := cmd.Flags().GetInt64("user")

	stores, err := app.OpenStores(cmd.Context(), a.Config)
	if err != nil {
		return nil, 0, fmt.Errorf("open history: %w", err)
	}
	return stores, core.UserID(user), nil
}

func runHistoryShowCmd(cmd *cobra.Command, _ []string) error {
	stores, user, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer stores.Close()

	turns, err := stores.History.Load(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	if len(turns) == 0 {
		fmt.Println(styleDim.Render("no history for user " + user.String()))
		return nil
	}

	for _, turn := range turns {
		fmt.Println(formatTurn(turn))
	}
	return nil
}

func runHistoryClearCmd(cmd *cobra.Command, _ []string) error {
	stores, user, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := history.Clear(cmd.Context(), stores.History, user); err != nil {
		return err
	}

	fmt.Println(styleSuccess.Render("cleared history for user " + user.String()))
	return nil
}

func formatTurn(turn core.Turn) string {
	return roleStyle(turn.Role).Render(fmt.Sprintf("%-9s", turn.Role)) + " " + turn.Content
}
