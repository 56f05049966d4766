package cli

import (
	"fmt"

	"github.com/erg0nix/palaver/internal/app"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}

			pid, err := app.StopProcess(a.Config.PIDFile())
			if err != nil {
				fmt.Println(styleError.Render("palaver: " + err.Error()))
				return err
			}

			if pid == 0 {
				fmt.Println(styleDim.Render("palaver not running"))
				return nil
			}

			fmt.Println(styleSuccess.Render("stopped palaver") + " " + stylePID.Render(fmt.Sprintf("pid %d", pid)))
			return nil
		},
	}
}
