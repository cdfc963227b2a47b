package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ghazal/pkg/auth"
	"ghazal/pkg/domain"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
			return nil
		},
	}
}

// NewPromoteCommand creates the promote command.
func NewPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Give a user the admin role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" {
				return errors.New("--email is required")
			}
			rt, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			user, ok, err := rt.App.Store().GetUserByEmail(email)
			if err != nil {
				return fmt.Errorf("look up user: %w", err)
			}
			if !ok {
				return fmt.Errorf("no user with email %s", email)
			}
			if user.Role == domain.RoleAdmin {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already an admin\n", email)
				return nil
			}
			if _, err := rt.App.SetUserRole(user.ID, domain.RoleAdmin); err != nil {
				return fmt.Errorf("promote: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted %s to admin\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of the user to promote")
	return cmd
}

// NewSweepOverdueCommand creates the sweep-overdue command.
func NewSweepOverdueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Notify borrowers and admins about overdue loans once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			n, err := rt.App.SweepOverdue(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep overdue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flagged %d overdue loan(s)\n", n)
			return nil
		},
	}
}

// NewKeygenCommand creates the keygen command. It needs no config.
func NewKeygenCommand() *cobra.Command {
	var (
		out  string
		bits int
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write an RSA key pair for session or internal tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(out) == "" {
				return errors.New("--out is required")
			}
			if bits < 2048 {
				return fmt.Errorf("--bits must be at least 2048, got %d", bits)
			}
			privatePath, publicPath, err := auth.WriteRSAKeyPair(out, bits)
			if err != nil {
				return fmt.Errorf("write key pair: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key: %s\n", privatePath, publicPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "directory for private.pem and public.pem")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	return cmd
}
