package cmd

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nestya/auth-service/app/repository"
	"github.com/nestya/auth-service/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage refresh tokens",
}

// Expired rows are already cleaned up lazily on lookup; this just reclaims
// rows nobody ever tried to refresh with.
var tokensPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired refresh tokens",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		db, err := sql.Open("mysql", cfg.DSN())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			return err
		}

		removed, err := repository.NewRefreshTokenRepository(db).DeleteExpired(cmd.Context(), time.Now())
		if err != nil {
			return err
		}

		fmt.Printf("removed %d expired refresh token(s)\n", removed)
		return nil
	},
}

func init() {
	tokensCmd.AddCommand(tokensPurgeCmd)
	rootCmd.AddCommand(tokensCmd)
}
