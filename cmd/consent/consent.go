// Package consent provides the commands that inspect and change the local
// data sharing preferences of the command line client.
package consent

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/consent"
)

// Command creates the consent command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Show or change local data sharing preferences",
		Long: `Manage the preferences that decide which data the contribute command may send.

Categories: basic_identification (always granted), model_training,
exif_metadata, location_data, advanced_sensors.

Examples:
  florai consent show
  florai consent set model_training true
  florai consent reset`,
	}

	cmd.AddCommand(showCommand(settings), setCommand(settings), resetCommand(settings))
	return cmd
}

// OpenStore opens and loads the preference store configured for the client.
// The returned close function releases the store file.
func OpenStore(cmd *cobra.Command, settings *conf.Settings) (*consent.Store, func(), error) {
	path := settings.Client.ConsentStorePath
	if path == "" {
		var err error
		if path, err = conf.DefaultConsentStorePath(); err != nil {
			return nil, nil, err
		}
	}

	kv, err := consent.OpenFileKV(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening preferences %s: %w", path, err)
	}
	store := consent.NewStore(kv)
	if _, err := store.Load(cmd.Context()); err != nil {
		_ = kv.Close()
		return nil, nil, fmt.Errorf("error loading preferences: %w", err)
	}
	return store, func() { _ = kv.Close() }, nil
}

func showCommand(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := OpenStore(cmd, settings)
			if err != nil {
				return err
			}
			defer closeStore()

			prefs := store.Snapshot()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					consent.Preferences
					Bundle consent.BundleResult `json:"advancedDiagnostics"`
				}{prefs, consent.EvaluateBundle(prefs.Consents)})
			}
			return printPreferences(cmd.OutOrStdout(), prefs)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printPreferences(out io.Writer, prefs consent.Preferences) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tGRANTED")
	for _, c := range consent.Categories() {
		fmt.Fprintf(w, "%s\t%t\n", c, consent.IsPermitted(prefs.Consents, c))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	bundle := consent.EvaluateBundle(prefs.Consents)
	fmt.Fprintf(out, "\nadvanced diagnostics: all=%t any=%t\n", bundle.AllConsented, bundle.AnyConsented)
	fmt.Fprintf(out, "consent completed: %t\n", prefs.ConsentCompleted)
	return nil
}

func setCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "set <category> <true|false>",
		Short: "Grant or revoke one category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := consent.ParseCategory(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q: expected true or false", args[1])
			}

			store, closeStore, err := OpenStore(cmd, settings)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.SetCategory(cmd.Context(), category, value); err != nil {
				return err
			}
			if err := store.SetConsentCompleted(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %t\n", category, value)
			return nil
		},
	}
}

func resetCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore default preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := OpenStore(cmd, settings)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "preferences reset to defaults")
			return nil
		},
	}
}
