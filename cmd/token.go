package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/ai-radar/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage control API bearer tokens",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Issue an operator token for the control API and watch",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		token, err := auth.MintAccessToken(cfg.Auth.JWTSecret, tokenSubject, cfg.Auth.JWTAudience, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenMintCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "operator the token is issued to")
	tokenMintCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	tokenCmd.AddCommand(tokenMintCmd)
	rootCmd.AddCommand(tokenCmd)
}
