package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willfong/adaptive-auth/internal/database"
)

var (
	auditUser  string
	auditLimit int
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent session events from the audit database",
	Long: `List the most recent audit events, newest first.

Every login, passcode check, resend, registration, simulation and logout is
recorded. Events are stored in the database named by audit.dsn; without a
DSN they are only written to the log.

Example:
  authctl audit --limit 50
  AUTHCTL_AUDIT_DSN=audit.db authctl audit --user testuser`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVarP(&auditUser, "user", "u", "", "only events for this account")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "maximum number of events")
}

func runAudit(cmd *cobra.Command, args []string) error {
	if cfg.Audit.DSN == "" {
		return errors.New("audit.dsn is not set; events are only written to the log")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	u := a.ui

	ctx := cmd.Context()
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	events, err := store.Recent(ctx, auditUser, auditLimit)
	if err != nil {
		return err
	}

	title := "Audit trail"
	if auditUser != "" {
		title += " for " + auditUser
	}
	u.Println(u.Header(title), "")
	u.Println(u.AuditTable(events))
	if a.cfg.Verbose {
		st := a.pool.Stats()
		u.Println(u.Muted(fmt.Sprintf("  %s: %d queries, avg %s", database.AuditTable, st.TotalQueries, st.AvgLatency)))
	}
	return nil
}
