package main

import (
	"fmt"
	"time"

	"github.com/go-seat-broker/internal/application/credential"
	"github.com/go-seat-broker/internal/domain"
	"github.com/go-seat-broker/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-seat-broker/internal/infrastructure/jwt"
	"github.com/go-seat-broker/internal/pkg/id"
	"github.com/go-seat-broker/internal/pkg/seal"
	"github.com/spf13/cobra"
)

var (
	tokenRole        string
	credentialLabel  string
	credentialSecret string
	seatOrderItem    string
	seatBuyer        string
	seatCredential   string
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the DynamoDB tables if they don't exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		dynamo.Bootstrap(cmd.Context(), dynamo.NewClient(cfg), cfg.DynamoTables)
		return nil
	},
}

var sealCmd = &cobra.Command{
	Use:   "seal <secret>",
	Short: "Seal a TOTP seed with CREDENTIAL_SEAL_KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sealer, err := seal.New(cfg.CredentialSealKey)
		if err != nil {
			return err
		}
		if !sealer.Enabled() {
			return fmt.Errorf("CREDENTIAL_SEAL_KEY is not set")
		}
		sealed, err := sealer.Seal(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Sign a development token with JWT_PRIVATE_KEY_PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := jwtinfra.NewProvider(cfg)
		if err != nil {
			return err
		}
		tok, err := p.Sign(args[0], tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage shared credentials",
}

var credentialAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a TOTP seed and print its credential id",
	RunE: func(cmd *cobra.Command, args []string) error {
		sealer, err := seal.New(cfg.CredentialSealKey)
		if err != nil {
			return err
		}
		repo := dynamo.NewCredentialRepo(dynamo.NewClient(cfg), cfg.DynamoTables.Credentials)
		credID, err := credential.NewService(repo, sealer).Register(cmd.Context(), credentialLabel, credentialSecret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), credID)
		return nil
	},
}

var seatCmd = &cobra.Command{
	Use:   "seat",
	Short: "Manage seats",
}

var seatAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an unclaimed seat and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := dynamo.NewSeatRepo(dynamo.NewClient(cfg), cfg.DynamoTables.Seats, cfg.DynamoTables.IssuanceLogs)
		seat := domain.NewSeat(id.New(), seatOrderItem, seatBuyer, seatCredential, time.Now().UTC())
		if err := repo.Create(cmd.Context(), &seat); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), seat.SeatID)
		return nil
	},
}

func registerAdminFlags() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", domain.RoleBuyer, "role claim (buyer|support|admin)")

	credentialAddCmd.Flags().StringVar(&credentialLabel, "label", "", "human readable name")
	credentialAddCmd.Flags().StringVar(&credentialSecret, "secret", "", "base32 TOTP seed")
	_ = credentialAddCmd.MarkFlagRequired("secret")

	seatAddCmd.Flags().StringVar(&seatOrderItem, "order-item", "", "order item the seat was bought with")
	seatAddCmd.Flags().StringVar(&seatBuyer, "buyer", "", "buyer id")
	seatAddCmd.Flags().StringVar(&seatCredential, "credential", "", "credential id")
	for _, name := range []string{"order-item", "buyer", "credential"} {
		_ = seatAddCmd.MarkFlagRequired(name)
	}
}
