package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"idresolve/internal/contact/handler"
	"idresolve/internal/contact/models"
)

// IdentifyOptions holds flags for the identify command.
type IdentifyOptions struct {
	*RootOptions
	Email       string
	PhoneNumber string
}

// NewIdentifyCommand creates the identify command.
func NewIdentifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IdentifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Identify one observation against the configured store",
		Long: `Run a single identify against the configured store and print the
consolidated contact as JSON, the same body POST /identify returns.

Example:
  idresolve identify --email doc@hillvalley.edu --phone 123456`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentify(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.PhoneNumber, "phone", "", "phone number")
	cmd.MarkFlagsOneRequired("email", "phone")

	return cmd
}

func runIdentify(ctx context.Context, opts *IdentifyOptions, out, logOut io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer a.close()

	identity, err := a.service.Identify(ctx, opts.Email, opts.PhoneNumber)
	if err != nil {
		return err
	}
	return writeIdentity(out, identity)
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lookup <contact-id>",
		Short:         "Print the cluster containing a contact id",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id < 1 {
				return fmt.Errorf("invalid contact id %q", args[0])
			}
			return runLookup(cmd.Context(), rootOpts, models.ContactID(id), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	return cmd
}

func runLookup(ctx context.Context, opts *RootOptions, id models.ContactID, out, logOut io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer a.close()

	identity, err := a.service.Lookup(ctx, id)
	if err != nil {
		return err
	}
	return writeIdentity(out, identity)
}

func writeIdentity(out io.Writer, identity models.Identity) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(handler.NewIdentityResponse(identity))
}
