package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzzdr/bond-oas-engine/internal/license"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Sign a license key",
	Long: `Sign a license key for a user with the configured secret.

Examples:
  oas-engine keygen --user desk-7 --days 365 --features all
  oas-engine keygen --user audit --features lattice,after_tax --secret s3cret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		days, _ := cmd.Flags().GetInt("days")
		names, _ := cmd.Flags().GetString("features")
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = cfg.License.Secret
		}
		if days <= 0 {
			return errors.New("--days must be positive")
		}

		features, err := license.ParseFeatures(strings.Split(names, ","))
		if err != nil {
			return err
		}
		expiry := time.Now().UTC().AddDate(0, 0, days)
		key, err := license.Issue([]byte(secret), user, expiry, features)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		fmt.Fprintf(cmd.ErrOrStderr(), "user=%s features=%s expires=%s\n", user, features, expiry.Format(time.RFC3339))
		return nil
	},
}

func init() {
	keygenCmd.Flags().String("user", "", "license holder")
	keygenCmd.Flags().Int("days", 365, "days until expiry")
	keygenCmd.Flags().String("features", "all", "comma-separated features: lattice, scenarios, after_tax, all")
	keygenCmd.Flags().String("secret", "", "signing secret (default: license.secret from config)")
	_ = keygenCmd.MarkFlagRequired("user")
}
