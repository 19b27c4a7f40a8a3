package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ospgroupvn/usage-monitor/internal/config"
	"github.com/ospgroupvn/usage-monitor/internal/token"
	"github.com/ospgroupvn/usage-monitor/pkg/cache"
	"github.com/ospgroupvn/usage-monitor/pkg/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	generateScopes    []string
	generateExpiresIn time.Duration
	listIncludeAll    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage access tokens",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate <user-id>",
	Short: "Generate an access token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, cleanup, err := openRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		var expiresAt *time.Time
		if generateExpiresIn > 0 {
			t := time.Now().UTC().Add(generateExpiresIn)
			expiresAt = &t
		}

		issued, err := manager.Issue(cmd.Context(), args[0], generateScopes, expiresAt)
		if err != nil {
			return err
		}

		fmt.Printf("Generated token for %s:\n\n", issued.Record.UserID)
		fmt.Printf("  %s\n\n", issued.Token)
		fmt.Println("Give it to the user to set in their environment:")
		fmt.Printf("  export MCP_USAGE_ACCESS_TOKEN=%q\n", issued.Token)
		if issued.Record.ExpiresAt != nil {
			fmt.Printf("\nExpires: %s\n", issued.Record.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, cleanup, err := openRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		revoked, err := manager.Revoke(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !revoked {
			fmt.Println("Token not found; nothing to revoke.")
			return nil
		}
		fmt.Printf("Revoked token %s\n", token.Preview(args[0]))
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, cleanup, err := openRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		tokens, err := manager.List(cmd.Context(), listIncludeAll)
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			fmt.Println("No tokens issued.")
			return nil
		}

		sort.Slice(tokens, func(i, j int) bool {
			return tokens[i].Record.CreatedAt.Before(tokens[j].Record.CreatedAt)
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "USER\tTOKEN\tCREATED\tSTATUS")
		for _, t := range tokens {
			status := "active"
			if t.Record.Revoked {
				status = "revoked"
				if t.Record.RevokedAt != nil {
					status = fmt.Sprintf("revoked %s", t.Record.RevokedAt.Format("2006-01-02"))
				}
			} else if t.Record.ExpiresAt != nil && time.Now().After(*t.Record.ExpiresAt) {
				status = "expired"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				t.Record.UserID,
				token.Preview(t.Token),
				t.Record.CreatedAt.Format("2006-01-02 15:04"),
				status,
			)
		}
		return nil
	},
}

// openRegistry builds a token manager over the configured backend for
// direct administrative access.
func openRegistry(ctx context.Context) (*token.Manager, func(), error) {
	noop := func() {}

	cfg, err := config.LoadRegistryConfig()
	if err != nil {
		return nil, noop, err
	}

	logger := zap.NewNop()
	codec := token.NewCodec(cfg.Auth.TokenSecretKey)

	switch cfg.Registry.Backend {
	case config.RegistryBackendFile:
		store, err := token.NewFileStore(cfg.Registry.TokensFile)
		if err != nil {
			return nil, noop, err
		}
		return token.NewManager(codec, store, nil, logger), noop, nil

	case config.RegistryBackendRedis:
		redisCache, err := cache.NewCache(cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		store := token.NewRedisStore(redisCache)
		return token.NewManager(codec, store, nil, logger), func() { redisCache.Close() }, nil

	case config.RegistryBackendPostgres:
		db, err := database.NewDatabase(cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		store, err := token.NewPostgresStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return token.NewManager(codec, store, nil, logger), db.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}

func init() {
	tokenGenerateCmd.Flags().StringSliceVar(&generateScopes, "scopes", nil, "Scopes to grant (default usage:write)")
	tokenGenerateCmd.Flags().DurationVar(&generateExpiresIn, "expires-in", 0, "Token lifetime (e.g. 720h); 0 means no expiry")
	tokenListCmd.Flags().BoolVar(&listIncludeAll, "include-revoked", false, "Include revoked tokens")

	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	tokenCmd.AddCommand(tokenListCmd)
	rootCmd.AddCommand(tokenCmd)
}
