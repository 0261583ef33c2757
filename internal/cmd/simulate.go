package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willfong/adaptive-auth/internal/auth"
	"github.com/willfong/adaptive-auth/internal/simulation"
	"github.com/willfong/adaptive-auth/internal/ui"
)

var (
	// Scenario overrides
	simUser   string
	simDevice string
	simIP     string
	simLat    float64
	simLon    float64

	simList bool
	simSeed bool
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate [scenario]",
	Short: "Show how the engine would score a hypothetical login",
	Long: `Ask the risk engine to score a login without performing it.

Pick a built-in scenario, override its parameters, or describe a login
entirely with flags. Nothing is authenticated and no session is created.

Scenarios that compare against history (trusted, impossible-travel) need
the user's history seeded first; pass --seed to do that in the same run.

Example:
  authctl simulate --list
  authctl simulate blacklisted-ip
  authctl simulate impossible-travel --seed
  authctl simulate --user alice --device laptop --ip 10.0.99.7
  authctl simulate new-device --lat 51.5074 --lon -0.1278`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().BoolVar(&simList, "list", false, "list the built-in scenarios")
	simulateCmd.Flags().BoolVar(&simSeed, "seed", false, "seed the user's login history before scoring")
	simulateCmd.Flags().StringVar(&simUser, "user", "", "account to score (default demo.username)")
	simulateCmd.Flags().StringVar(&simDevice, "device", "", "device fingerprint")
	simulateCmd.Flags().StringVar(&simIP, "ip", "", "client IP address")
	simulateCmd.Flags().Float64Var(&simLat, "lat", 0, "latitude of the login")
	simulateCmd.Flags().Float64Var(&simLon, "lon", 0, "longitude of the login")
	simulateCmd.MarkFlagsRequiredTogether("lat", "lon")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	custom := false
	for _, name := range []string{"user", "device", "ip", "lat", "lon"} {
		custom = custom || cmd.Flags().Changed(name)
	}
	if simList || (len(args) == 0 && !custom) {
		printScenarios(newUI(cmd))
		return nil
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.openAudit(ctx); err != nil {
		return err
	}
	u := a.ui

	title := "Custom login"
	var params simulation.Params
	needsHistory := false
	if len(args) == 1 {
		sc, err := simulation.Find(args[0])
		if err != nil {
			return err
		}
		title = sc.Title
		params = sc.Params
		needsHistory = sc.NeedsHistory
	}

	params.Username = a.cfg.Demo.Username
	if cmd.Flags().Changed("user") {
		params.Username = simUser
	}
	if cmd.Flags().Changed("device") {
		params.DeviceFingerprint = simDevice
	}
	if cmd.Flags().Changed("ip") {
		params.IPAddress = simIP
	}
	if cmd.Flags().Changed("lat") {
		lat, lon := simLat, simLon
		params.Lat, params.Lon = &lat, &lon
	}

	harness := simulation.NewHarness(a.client, a.log.Logger)
	ctrl := a.controller(auth.WithSimulator(harness))

	if simSeed {
		spin := u.NewSpinner("Seeding login history for " + params.Username).Start()
		resp, err := harness.SeedHistory(ctx, params.Username)
		if err != nil {
			spin.Error(err.Error())
			return reported(err)
		}
		spin.Success(resp.Message)
	} else if needsHistory {
		u.Println(u.Muted("  This scenario compares against login history. Run with --seed if it has not been seeded."), "")
	}

	spin := u.NewSpinner("Scoring " + title).Start()
	out, err := ctrl.Simulate(ctx, params)
	if err != nil {
		spin.Error(userMessage(err))
		return reported(err)
	}
	spin.Success(out.Message)

	u.Println(u.AssessmentReport(title, out.Assessment))
	ctrl.DismissSimulation()
	return nil
}

func printScenarios(u *ui.UI) {
	u.Println(u.Header("Scenarios"), "")
	for _, sc := range simulation.Scenarios() {
		value := sc.Description
		if sc.NeedsHistory {
			value += " (needs --seed)"
		}
		u.Println(u.TableRow(sc.Name, value, ui.StatusPending))
	}
	u.Println("", u.Muted(fmt.Sprintf("  Scenarios run as %s unless --user is given.", cfgDemoUser())))
}

func cfgDemoUser() string {
	if cfg == nil || cfg.Demo.Username == "" {
		return simulation.DemoUser
	}
	return cfg.Demo.Username
}
