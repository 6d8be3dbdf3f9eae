// Command blockctl manages the requester block list from the shell, against
// the same store the server is configured with.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	identityapp "github.com/carlosmonteiro/serverless-commerce/internal/application/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/config"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/dynamo"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/logger"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/persistence"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	logLevel string
	service  *identityapp.BlockedUserService
	release  func() error
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "blockctl",
		Short:        "Manage blocked order requesters",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.release != nil {
				return opts.release()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	cmd.AddCommand(
		newBlockCommand(opts),
		newUnblockCommand(opts),
		newCheckCommand(opts),
		newListCommand(opts),
	)
	return cmd
}

// open builds the service over the configured store. The memory driver is
// refused: its contents would vanish with this process.
func (o *options) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(&logger.Config{
		Level:      o.logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	var repo identity.BlockedUserRepository
	switch cfg.Store.Driver {
	case "sql":
		db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(log))
		if err != nil {
			return err
		}
		if cfg.Database.Driver == "sqlite" {
			if err := db.AutoMigrate(); err != nil {
				_ = db.Close()
				return err
			}
		}
		repo = persistence.NewBlockedUserRepository(db.DB)
		o.release = db.Close
	case "dynamodb":
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		tables := dynamo.DefaultTables()
		tables.BlockedUsers = cfg.Store.BlockedUsersTable
		repo = dynamo.NewBlockedUserRepository(dynamodb.NewFromConfig(awsCfg), tables)
	default:
		return fmt.Errorf("store driver %q keeps no durable block list", cfg.Store.Driver)
	}
	o.service = identityapp.NewBlockedUserService(repo, log)
	return nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if c.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(c.Endpoint)
	}
	return awsCfg, nil
}

func newBlockCommand(opts *options) *cobra.Command {
	var in identityapp.BlockInput
	cmd := &cobra.Command{
		Use:   "block <email>",
		Short: "Block a requester",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Email = args[0]
			entry, err := opts.service.Block(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}
	cmd.Flags().StringVar(&in.Reason, "reason", "", "why the requester is blocked")
	cmd.Flags().StringVar(&in.BlockedBy, "by", os.Getenv("USER"), "operator recorded on the entry")
	cmd.Flags().IntVar(&in.Days, "days", 0, "block duration in days (0 blocks until removed)")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newUnblockCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <email>",
		Short: "Remove a requester from the block list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.service.Unblock(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("%s unblocked\n", args[0])
			return nil
		},
	}
}

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check <email>",
		Short: "Report whether a requester is currently blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.service.IsBlocked(cmd.Context(), args[0]) {
				cmd.Printf("%s is blocked\n", args[0])
				return nil
			}
			cmd.Printf("%s is not blocked\n", args[0])
			return nil
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List block list entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := opts.service.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, entries)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
