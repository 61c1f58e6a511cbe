package main

import (
	"github.com/llmariner/fine-tuning-env/pkg/k8s"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
)

// deployCmd creates a new deploy command.
// deploy command creates the persistent volume claims and the job.
func deployCmd() *cobra.Command {
	var (
		opts   commonOpts
		update bool
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the volumes and the fine-tuning job",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.loadDeployConfig()
			if err != nil {
				return err
			}
			ctx := opts.contextWithLogger(cmd.Context())

			j, err := newJob(c)
			if err != nil {
				return err
			}
			k8sClient, err := k8s.NewClient(kubeconfig)
			if err != nil {
				return err
			}
			job, err := j.Deploy(ctx, k8sClient.CtrlClient(), update)
			if err != nil {
				return err
			}
			ctrl.LoggerFrom(ctx).Info("Deployed", "job", job.Name, "namespace", job.Namespace)
			return nil
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().BoolVar(&update, "update", false, "Apply the job even if it already exists")
	return cmd
}
