package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/willfong/adaptive-auth/internal/auth"
	"github.com/willfong/adaptive-auth/internal/device"
	"github.com/willfong/adaptive-auth/internal/ui"
)

var (
	loginUsername      string
	loginPasswordStdin bool
	loginFingerprint   string
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in, answering a passcode challenge if the engine asks for one",
	Long: `Sign in to the risk engine.

The engine scores the attempt from your device fingerprint, address and
login history. Low risk signs you in directly. High risk issues a one-time
passcode; enter it at the prompt, or type:
  resend   request a new passcode
  back     abandon the login

The device fingerprint is derived from this machine unless --fingerprint
or device.fingerprint is set.

Example:
  authctl login --username testuser
  echo "$PASSWORD" | authctl login --username testuser --password-stdin`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "account name (prompted when empty)")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "read the password from the first line of stdin")
	loginCmd.Flags().StringVar(&loginFingerprint, "fingerprint", "", "device fingerprint to present")
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.openAudit(ctx); err != nil {
		return err
	}
	ctrl := a.controller()
	u := a.ui

	username, password, err := readCredentials(u, loginUsername, loginPasswordStdin)
	if err != nil {
		return err
	}

	fp := loginFingerprint
	if fp == "" {
		fp = a.cfg.Device.Fingerprint
	}
	fp = device.Fingerprint(fp)

	u.Println(u.Header("Sign in"), "")
	u.Println(u.KeyValue("Engine", a.client.BaseURL()))
	u.Println(u.KeyValue("User", username))
	u.Println(u.KeyValue("Device", fp), "")

	start := time.Now()
	spin := u.NewSpinner("Signing in").Start()
	out, err := ctrl.SubmitCredentials(ctx, username, password, fp)
	if err != nil {
		spin.Error(userMessage(err))
		return reported(err)
	}

	if out.State == auth.StateAwaitingChallenge {
		msg := out.Message
		if msg == "" {
			msg = "additional verification required"
		}
		spin.Warning(msg)
		u.Println(u.AssessmentReport("Login risk", out.Assessment))
		if out.DemoOTP != "" {
			u.Println(u.Code(out.DemoOTP), "")
		}
		if err := answerChallenge(ctx, u, ctrl); err != nil {
			return err
		}
		if ctrl.Snapshot().State != auth.StateAuthenticated {
			return nil
		}
	} else {
		spin.Success(fmt.Sprintf("signed in (%s)", elapsed(start)))
	}

	u.Println(u.Dashboard(ctrl.Snapshot()), "")

	// Any input, the end of it, or an interrupt signs out.
	_, _ = promptContext(ctx, u, "Press Enter to sign out")
	ctrl.Logout()
	u.Println("", u.Success("Signed out"))
	return nil
}

// answerChallenge prompts for passcodes until one is accepted or the user
// gives up.
func answerChallenge(ctx context.Context, u *ui.UI, ctrl *auth.Controller) error {
	for {
		input, err := promptContext(ctx, u, "Passcode (or resend, back)")
		if err != nil {
			ctrl.Logout()
			if errors.Is(err, ui.ErrNoInput) {
				u.Println("", u.Warning("No passcode entered, login abandoned"))
				return reported(err)
			}
			return err
		}

		switch strings.ToLower(strings.TrimSpace(input)) {
		case "":
			continue
		case "back":
			ctrl.CancelChallenge()
			u.Println(u.Warning("Login cancelled"))
			return nil
		case "resend":
			spin := u.NewSpinner("Requesting a new passcode").Start()
			out, err := ctrl.ResendChallenge(ctx)
			if err != nil {
				spin.Error(userMessage(err))
				if ctrl.Snapshot().State != auth.StateAwaitingChallenge {
					return reported(err)
				}
				continue
			}
			spin.Success("sent")
			if out.DemoOTP != "" {
				u.Println(u.Code(out.DemoOTP))
			}
		default:
			spin := u.NewSpinner("Verifying").Start()
			if _, err := ctrl.VerifyChallenge(ctx, input); err != nil {
				spin.Error(userMessage(err))
				if ctx.Err() != nil {
					ctrl.Logout()
					return reported(err)
				}
				continue
			}
			spin.Success("verified")
			return nil
		}
	}
}

// promptContext is Prompt that gives up when ctx is cancelled. The abandoned
// read stays blocked on the input until the process exits.
func promptContext(ctx context.Context, u *ui.UI, label string) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := u.Prompt(label)
		ch <- result{line, err}
	}()
	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		u.Println("")
		return "", ctx.Err()
	}
}

// readCredentials fills in whatever the flags left out.
func readCredentials(u *ui.UI, username string, passwordStdin bool) (string, string, error) {
	var err error
	if passwordStdin {
		if username == "" {
			return "", "", errors.New("--password-stdin requires --username")
		}
		password, err := u.ReadLine()
		if err != nil {
			return "", "", fmt.Errorf("read password from stdin: %w", err)
		}
		return username, password, nil
	}

	if username == "" {
		if username, err = u.Prompt("Username"); err != nil {
			return "", "", err
		}
	}
	password, err := u.PromptSecret("Password")
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(username), password, nil
}
