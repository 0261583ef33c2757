package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/willfong/adaptive-auth/internal/config"
	"github.com/willfong/adaptive-auth/internal/database"
)

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:   "schema [driver]",
	Short: "Output the audit table DDL",
	Long: `Output the SQL that creates the audit table, for DBAs who prefer to
create it themselves. authctl also creates it on first use.

Available drivers:
  sqlite    (default: audit.driver)
  postgres
  mysql     MySQL 8+ and MariaDB

Examples:
  authctl schema                         # DDL for the configured driver
  authctl schema postgres | psql audit
  authctl schema mysql -o audit.sql`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSchema,
}

var schemaOutputFile string

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().StringVarP(&schemaOutputFile, "output", "o", "", "output file (default: stdout)")
}

func runSchema(cmd *cobra.Command, args []string) error {
	u := newUI(cmd)

	driver := cfg.Audit.Driver
	if len(args) > 0 {
		driver = config.NormalizeDriver(args[0])
	}
	switch driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unknown driver %q (valid: sqlite, postgres, mysql)", driver)
	}

	var sb strings.Builder
	for _, stmt := range database.AuditSchema(driver) {
		sb.WriteString(stmt)
		sb.WriteString(";\n")
	}
	content := sb.String()

	if schemaOutputFile == "" {
		fmt.Fprint(cmd.OutOrStdout(), content)
		return nil
	}

	// Ensure directory exists
	dir := filepath.Dir(schemaOutputFile)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if err := os.WriteFile(schemaOutputFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), u.Success("Schema written to: "+schemaOutputFile))
	return nil
}
