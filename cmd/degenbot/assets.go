package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go-degen-pov/internal/config"
	"go-degen-pov/internal/container"
	"go-degen-pov/internal/factory"
)

func newAssetsCommand() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Load the overlay assets and list them",
		Long:  "Load every overlay raster and sidecar from the configured source, validate them and print the registry. Exits non-zero when any asset is invalid.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			return listAssets(cmd, cfg)
		},
		SilenceUsage: true,
	}
	config.BindFlags(v, cmd.Flags())
	return cmd
}

func listAssets(cmd *cobra.Command, cfg *config.Config) error {
	registry, err := container.LoadRegistry(cmd.Context(), cfg, factory.NewComponentFactory(cfg).SourceFactory)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGROUP\tORIENTATION\tSIZE\tANCHOR\tSCALE HINT")
	for _, a := range registry.Assets() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t(%g,%g)\t%g\n",
			a.ID, a.Group, a.Orientation,
			a.ReferenceWidth, a.ReferenceHeight,
			a.AnchorPoint.X, a.AnchorPoint.Y, a.AnchorScaleHint)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d assets, overlays: %v\n", registry.Len(), registry.Names())
	return nil
}
