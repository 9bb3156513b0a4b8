// seatctl claims seats against a running broker and runs the operator tasks
// around it: table bootstrap, credential and seat provisioning, dev tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-seat-broker/internal/client/api"
	"github.com/go-seat-broker/internal/config"
	"github.com/go-seat-broker/internal/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
	cfg       *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "seatctl",
	Short: "Seat broker client and operator tool",
	Long: `Claims shared-credential seats from a seat broker and manages
the tables, credentials and seats behind it.

Examples:
  seatctl claim order-item-42 --token $SEATCTL_TOKEN
  seatctl window
  seatctl bootstrap
  seatctl credential add --label streaming-family --secret JBSWY3DPEHPK3PXP
  seatctl seat add --order-item order-item-42 --buyer buyer-7 --credential <id>
  seatctl token buyer-7 --role buyer`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		cfg = config.Load()
		logger.SetDefault(logger.New(os.Stderr, cfg.LogLevel))
	},
}

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Show the server's issuance window",
	RunE:  runWindow,
}

func main() {
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(windowCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(seatCmd)
	credentialCmd.AddCommand(credentialAddCmd)
	seatCmd.AddCommand(seatAddCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("SEATCTL_SERVER", "http://localhost:3000"), "broker base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("SEATCTL_TOKEN"), "bearer token for buyer endpoints")

	registerAdminFlags()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runWindow(cmd *cobra.Command, args []string) error {
	w, err := api.New(serverURL, authToken).Window(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "server time:  %s\n", w.ServerTime.Format("15:04:05"))
	fmt.Fprintf(out, "current code: %ds left\n", w.ExpiresIn)
	if w.WaitSeconds == 0 {
		fmt.Fprintln(out, "window:       open")
	} else {
		fmt.Fprintf(out, "window:       opens in %ds\n", w.WaitSeconds)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
