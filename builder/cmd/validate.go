package main

import (
	"fmt"

	"github.com/llmariner/fine-tuning-env/builder/internal/volume"
	"github.com/spf13/cobra"
)

// validateCmd creates a new validate command.
// validate command checks the package pins and the volume mapping of the configuration.
func validateCmd() *cobra.Command {
	var (
		opts   commonOpts
		deploy bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			load := opts.loadConfig
			if deploy {
				load = opts.loadDeployConfig
			}
			c, err := load()
			if err != nil {
				return err
			}
			r, _, err := newRecipe(c)
			if err != nil {
				return err
			}
			vols, err := volume.FromConfig(c.Volumes)
			if err != nil {
				return err
			}
			specs, err := c.Image.PackageSpecs()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Base model: %s (%s)\n", c.BaseModel.ID, c.BaseModel.Path)
			fmt.Fprintf(out, "Packages: %d\n", len(specs))
			fmt.Fprintf(out, "Recipe digest: %s\n", r.Digest())
			for _, v := range vols {
				fmt.Fprintf(out, "Volume: %s -> %s\n", v.Name, v.MountPath)
			}
			if c.Job.Image == "" {
				fmt.Fprintln(out, "Job image: not set (required by render, deploy and status)")
			} else {
				fmt.Fprintf(out, "Job image: %s\n", c.Job.Image)
			}
			return nil
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().BoolVar(&deploy, "deploy", false, "Also validate the settings required to deploy the job")
	return cmd
}
