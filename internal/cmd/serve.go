package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/willfong/adaptive-auth/internal/config"
	"github.com/willfong/adaptive-auth/internal/engine"
	"github.com/willfong/adaptive-auth/internal/refengine"
)

var (
	serveAddr         string
	serveEchoOTP      bool
	serveDemoUser     bool
	serveDemoPassword string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the in-memory reference risk engine",
	Long: `Run a local risk engine that speaks the same HTTP contract as the
production one. Accounts and history live in memory and vanish on exit.

It scores blacklisted addresses, unrecognized devices, impossible travel
and logins at unusual hours, issues six digit passcodes valid for five
minutes, and serves its request counters at /metrics.

--echo-otp includes each issued passcode in the login response so the
client can show it (set demo.show_otp on the client side too).

Example:
  authctl serve --echo-otp --demo-user
  authctl serve --addr 0.0.0.0:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", config.ServeAddr, "listen address")
	serveCmd.Flags().BoolVar(&serveEchoOTP, "echo-otp", false, "echo issued passcodes in login responses")
	serveCmd.Flags().BoolVar(&serveDemoUser, "demo-user", false, "register demo.username at startup")
	serveCmd.Flags().StringVar(&serveDemoPassword, "demo-password", "password123", "password for the demo user")
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Close()
	u := newUI(cmd)

	eng := refengine.New(refengine.Config{EchoOTP: serveEchoOTP, Logger: log.Logger})
	if serveDemoUser {
		name := cfg.Demo.Username
		if err := eng.AddUser(name, name+"@example.com", serveDemoPassword); err != nil {
			return fmt.Errorf("register demo user: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           eng.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	u.Println(u.Header("Reference risk engine"), "")
	u.Println(u.KeyValue("Listening", "http://"+serveAddr))
	u.Println(u.KeyValue("Endpoints", fmt.Sprintf("%s %s %s", engine.PathLogin, engine.PathVerifyOTP, engine.PathRegister)))
	u.Println(u.KeyValue("Demo", fmt.Sprintf("%s %s", engine.PathSimulateLogin, engine.PathSeedLoginHistory)))
	u.Println(u.KeyValue("Echo OTP", fmt.Sprintf("%t", serveEchoOTP)))
	if serveDemoUser {
		u.Println(u.KeyValue("Demo user", cfg.Demo.Username))
	}
	u.Println("", u.Muted("  Press Ctrl+C to stop"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	u.Println("", u.Warning("Received shutdown signal"))
	spin := u.NewSpinner("Stopping engine").Start()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServeShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		spin.Error(err.Error())
		log.Warn("engine shutdown", zap.Error(err))
		return reported(err)
	}
	spin.Success("stopped")
	return nil
}
