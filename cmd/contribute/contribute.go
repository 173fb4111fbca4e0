// Package contribute provides the command line client of the contribution
// API. What it sends is gated by the local consent preferences.
package contribute

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	consentcmd "github.com/florai/contrib-pipeline/cmd/consent"
	"github.com/florai/contrib-pipeline/internal/buildinfo"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/consent"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/httpclient"
)

// ErrTrainingConsentMissing is returned before anything is uploaded when
// the user has not agreed to model training.
var ErrTrainingConsentMissing = errors.NewStd("model_training consent is not granted; run 'florai consent set model_training true' first")

// Command creates the contribute command and its status subcommand.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		upload    httpclient.PlantUpload
		latitude  float64
		longitude float64
		unhealthy bool
	)

	cmd := &cobra.Command{
		Use:   "contribute",
		Short: "Contribute a plant photograph",
		Long: `Upload a photograph with its identification to the contribution API.

The upload requires model_training consent. Coordinates are only sent when
location_data consent is granted.

Example:
  florai contribute --image leaf.jpg --scientific-name "Quercus robur" --common-name "English oak"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := consentcmd.OpenStore(cmd, settings)
			if err != nil {
				return err
			}
			defer closeStore()

			var lat, lon *float64
			if cmd.Flags().Changed("latitude") {
				lat = &latitude
			}
			if cmd.Flags().Changed("longitude") {
				lon = &longitude
			}
			upload.IsHealthy = !unhealthy
			if err := applyConsent(&upload, store.Consents(), lat, lon); err != nil {
				return err
			}

			api, closeClient := newAPIClient(settings, build)
			defer closeClient()
			id, err := api.SubmitPlant(cmd.Context(), &upload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "contribution received: %s\n", id)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&upload.ImagePath, "image", "", "Path of the JPEG or PNG photograph")
	f.StringVar(&upload.ScientificName, "scientific-name", "", "Scientific name of the plant")
	f.StringVar(&upload.CommonName, "common-name", "", "Common name of the plant")
	f.StringVar(&upload.Family, "family", "", "Plant family")
	f.BoolVar(&unhealthy, "unhealthy", false, "The plant shows signs of disease")
	f.StringVar(&upload.DiseaseInfo, "disease-info", "", "Description of visible disease")
	f.StringVar(&upload.GrowingConditions, "growing-conditions", "", "Where and how the plant grows")
	f.StringVar(&upload.Notes, "notes", "", "Free text notes")
	f.Float64Var(&latitude, "latitude", 0, "Latitude of the photograph, sent only with location_data consent")
	f.Float64Var(&longitude, "longitude", 0, "Longitude of the photograph, sent only with location_data consent")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("scientific-name")
	_ = cmd.MarkFlagRequired("common-name")
	cmd.MarkFlagsRequiredTogether("latitude", "longitude")

	cmd.AddCommand(statusCommand(settings, build))
	return cmd
}

// applyConsent fills the consent fields of u from the local preferences
// and drops coordinates the user has not agreed to share.
func applyConsent(u *httpclient.PlantUpload, consents consent.Map, lat, lon *float64) error {
	if !consent.IsPermitted(consents, consent.ModelTraining) {
		return ErrTrainingConsentMissing
	}
	u.DataUsageConsent = true

	u.LocationConsent = false
	u.Latitude, u.Longitude = nil, nil
	if lat != nil && lon != nil && consent.IsPermitted(consents, consent.LocationData) {
		u.LocationConsent = true
		u.Latitude, u.Longitude = lat, lon
	}
	return nil
}

func newAPIClient(settings *conf.Settings, build *buildinfo.Context) (*httpclient.APIClient, func()) {
	client := httpclient.New(&httpclient.Config{
		Token:     settings.Client.Token,
		UserAgent: "florai-cli/" + build.GetVersion(),
	})
	return httpclient.NewAPIClient(settings.Client.APIBaseURL, client), client.Close
}

func statusCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List your contributions and their review state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, closeClient := newAPIClient(settings, build)
			defer closeClient()
			status, err := api.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(status.Contributions) == 0 {
				fmt.Fprintln(out, "no contributions yet")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSPECIES\tSTATUS\tCREATED")
			for _, c := range status.Contributions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.ScientificName, c.Status, c.CreatedAt)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\ntotal: %d\n", status.Summary.Total)
			for _, state := range slices.Sorted(maps.Keys(status.Summary.StatusCounts)) {
				fmt.Fprintf(out, "%s: %d\n", state, status.Summary.StatusCounts[state])
			}
			return nil
		},
	}
}
