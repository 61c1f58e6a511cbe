package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
)

// buildCmd creates a new build command.
// build command writes the build context of the image. The image is built by an external
// builder (e.g., "docker buildx build --secret id=hf_token,env=HF_TOKEN <dir>").
func buildCmd() *cobra.Command {
	var (
		opts       commonOpts
		outputDir  string
		binaryPath string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Write the build context of the image",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := opts.contextWithLogger(cmd.Context())
			log := ctrl.LoggerFrom(ctx)

			r, configYAML, err := newRecipe(c)
			if err != nil {
				return err
			}

			if binaryPath == "" {
				if binaryPath, err = os.Executable(); err != nil {
					return fmt.Errorf("find the executable: %s", err)
				}
			}
			if err := r.WriteContext(outputDir, configYAML, binaryPath); err != nil {
				return err
			}
			log.Info("Wrote the build context", "dir", outputDir, "digest", r.Digest(), "steps", len(r.Steps()))
			return nil
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory where the build context is written")
	cmd.Flags().StringVar(&binaryPath, "binary", "", "Path to the builder binary for the image. Defaults to the running executable")
	_ = cmd.MarkFlagRequired("output-dir")
	return cmd
}
