package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/ai-radar/internal/auth"
)

var (
	consentSubject string
	consentTTL     time.Duration
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage screen capture consent tokens",
}

var consentMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Issue a single-use consent token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		ttl := consentTTL
		if ttl <= 0 {
			ttl = cfg.Auth.ConsentTTL
		}
		token, err := auth.MintConsent(cfg.Auth.ConsentSecret, consentSubject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	consentMintCmd.Flags().StringVar(&consentSubject, "subject", "device-owner", "subject granting consent")
	consentMintCmd.Flags().DurationVar(&consentTTL, "ttl", 0, "token lifetime (default from config)")
	consentCmd.AddCommand(consentMintCmd)
	rootCmd.AddCommand(consentCmd)
}
