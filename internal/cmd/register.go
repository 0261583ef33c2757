package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	registerUsername      string
	registerEmail         string
	registerPasswordStdin bool
)

// registerCmd represents the register command
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the risk engine",
	Long: `Create an account on the risk engine. Registering does not sign you in.

Example:
  authctl register --username testuser --email testuser@example.com`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().StringVarP(&registerUsername, "username", "u", "", "account name (prompted when empty)")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "contact address (prompted when empty)")
	registerCmd.Flags().BoolVar(&registerPasswordStdin, "password-stdin", false, "read the password from the first line of stdin")
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.openAudit(ctx); err != nil {
		return err
	}
	ctrl := a.controller()
	u := a.ui

	username, password, err := readCredentials(u, registerUsername, registerPasswordStdin)
	if err != nil {
		return err
	}
	if !registerPasswordStdin {
		confirm, err := u.PromptSecret("Confirm password")
		if err != nil {
			return err
		}
		if confirm != password {
			return errors.New("passwords do not match")
		}
	}

	email := registerEmail
	if email == "" && !registerPasswordStdin {
		if email, err = u.Prompt("Email"); err != nil {
			return err
		}
	}

	spin := u.NewSpinner("Creating account " + username).Start()
	out, err := ctrl.Register(ctx, username, email, password)
	if err != nil {
		spin.Error(userMessage(err))
		return reported(err)
	}
	msg := out.Message
	if msg == "" {
		msg = "registered"
	}
	spin.Success(msg)
	u.Println(u.Muted("  Sign in with: authctl login --username " + username))
	return nil
}
