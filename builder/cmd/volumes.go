package main

import (
	"github.com/llmariner/fine-tuning-env/builder/internal/volume"
	"github.com/llmariner/fine-tuning-env/pkg/k8s"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
)

// volumesCmd creates a new volumes command.
// volumes command creates the persistent volume claims that do not exist yet. Existing claims
// are never modified or deleted.
func volumesCmd() *cobra.Command {
	var opts commonOpts
	cmd := &cobra.Command{
		Use:   "volumes",
		Short: "Ensure the persistent volumes exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := opts.contextWithLogger(cmd.Context())

			vols, err := volume.FromConfig(c.Volumes)
			if err != nil {
				return err
			}
			k8sClient, err := k8s.NewClient(kubeconfig)
			if err != nil {
				return err
			}
			p := volume.NewProvisioner(k8sClient.CtrlClient(), c.App.Name, c.App.Namespace)
			if err := p.Ensure(ctx, vols); err != nil {
				return err
			}
			st, err := p.Status(ctx, vols)
			if err != nil {
				return err
			}

			// Claims of volumes removed from the configuration are kept with their data.
			pvcs, err := p.ListClaims(ctx)
			if err != nil {
				return err
			}
			declared := map[string]bool{}
			for _, name := range volume.Mapping(vols) {
				declared[name] = true
			}
			for _, pvc := range pvcs {
				if !declared[pvc.Name] {
					ctrl.LoggerFrom(ctx).Info("Persistent volume claim is no longer declared", "claim", pvc.Name)
				}
			}
			var data [][]string
			for _, v := range vols {
				data = append(data, []string{v.Name, v.MountPath, string(st[v.Name])})
			}
			renderTable(cmd.OutOrStdout(), []string{"VOLUME", "MOUNT PATH", "PHASE"}, data)
			return nil
		},
	}
	opts.addFlags(cmd)
	return cmd
}
