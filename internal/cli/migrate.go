package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"idresolve/internal/contact/events"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	EnsureTopic       bool
	Partitions        int32
	ReplicationFactor int16
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the contact schema",
		Long: `Apply pending schema migrations to the configured Postgres database.
Already applied migrations are skipped, so the command is safe to rerun.

With --ensure-topic the Kafka topic for contact events is created as well.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&opts.EnsureTopic, "ensure-topic", false, "create the Kafka events topic if missing")
	cmd.Flags().Int32Var(&opts.Partitions, "partitions", 6, "partitions for a created topic")
	cmd.Flags().Int16Var(&opts.ReplicationFactor, "replication-factor", 1, "replication factor for a created topic")

	return cmd
}

func runMigrate(ctx context.Context, opts *MigrateOptions, out, logOut io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer a.close()

	if a.db == nil {
		fmt.Fprintf(out, "store backend %q has no schema\n", cfg.Database.Backend)
	} else {
		applied, err := a.migrate(ctx)
		if err != nil {
			return err
		}
		for _, v := range applied {
			fmt.Fprintf(out, "applied %s\n", v)
		}
		fmt.Fprintf(out, "%d migration(s) applied\n", len(applied))
	}

	if !opts.EnsureTopic {
		return nil
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("--ensure-topic needs kafka brokers")
	}
	p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID)
	if err != nil {
		return err
	}
	defer p.Close()
	if err := p.EnsureTopic(ctx, opts.Partitions, opts.ReplicationFactor); err != nil {
		return err
	}
	fmt.Fprintf(out, "topic %s ready\n", cfg.Kafka.Topic)
	return nil
}
