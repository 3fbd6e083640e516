package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toseekandfind/multi-agent-sandbox/internal/tenant"
)

func keygenCmd() *cobra.Command {
	var scopesFlag string

	cmd := &cobra.Command{
		Use:   "keygen <tenant-id>",
		Short: "Generate and persist a new API key for a tenant",
		Long: `Generates a new API key, hashes it, and saves the hash to the
configured store so the tenant resolver can authenticate future
requests. The raw token is printed once; it is not recoverable
afterwards, only revocable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			scopes := strings.Split(scopesFlag, ",")

			ctx := cmd.Context()
			b, err := buildBackends(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			token, rec, err := tenant.GenerateAPIKey(tenantID, scopes)
			if err != nil {
				return err
			}
			if err := b.tenants.Save(ctx, rec); err != nil {
				return fmt.Errorf("saving API key: %w", err)
			}

			fmt.Printf("tenant:  %s\n", tenantID)
			fmt.Printf("scopes:  %s\n", strings.Join(scopes, ","))
			fmt.Printf("api key: %s\n", token)
			fmt.Println("\nStore this key now; it will not be shown again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&scopesFlag, "scopes", "submit,read", "comma-separated scopes to grant")
	return cmd
}
