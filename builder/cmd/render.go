package main

import (
	"github.com/spf13/cobra"
)

// renderCmd creates a new render command.
// render command prints the manifests of the persistent volume claims and the job.
func renderCmd() *cobra.Command {
	var opts commonOpts
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the Kubernetes manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.loadDeployConfig()
			if err != nil {
				return err
			}
			j, err := newJob(c)
			if err != nil {
				return err
			}
			b, err := j.Render()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	opts.addFlags(cmd)
	return cmd
}
