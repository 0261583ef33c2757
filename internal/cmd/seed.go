package cmd

import (
	"github.com/spf13/cobra"

	"github.com/willfong/adaptive-auth/internal/simulation"
	"github.com/willfong/adaptive-auth/internal/ui"
)

var seedUsername string

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Give a demo account a normal login history",
	Long: `Ask the engine to fabricate a routine login history for an account:
regular logins from one trusted device and home location. Travel and
time-of-day signals are only meaningful once a history exists.

The account must already be registered.

Example:
  authctl seed
  authctl seed --username alice`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringVarP(&seedUsername, "username", "u", "", "account to seed (default demo.username)")
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	u := a.ui

	username := seedUsername
	if username == "" {
		username = a.cfg.Demo.Username
	}

	harness := simulation.NewHarness(a.client, a.log.Logger)
	spin := u.NewSpinner("Seeding login history for " + username).Start()
	resp, err := harness.SeedHistory(cmd.Context(), username)
	if err != nil {
		spin.Error(err.Error())
		return reported(err)
	}
	spin.Success("done")

	items := []ui.KV{{Key: "User", Value: username}, {Key: "Result", Value: resp.Message}}
	if resp.TrustedDevice != "" {
		items = append(items, ui.KV{Key: "Trusted device", Value: resp.TrustedDevice})
	}
	if resp.Location != "" {
		items = append(items, ui.KV{Key: "Home location", Value: resp.Location})
	}
	u.Println(u.SummaryBox("Login history", items))
	return nil
}
