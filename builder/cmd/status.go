package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/llmariner/fine-tuning-env/builder/internal/job"
	"github.com/llmariner/fine-tuning-env/builder/internal/volume"
	"github.com/llmariner/fine-tuning-env/pkg/k8s"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
)

// statusCmd creates a new status command.
// status command shows the status of the job, its pods and the volumes.
func statusCmd() *cobra.Command {
	var (
		opts  commonOpts
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of the fine-tuning job",
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

			out := cmd.OutOrStdout()
			st, err := j.Status(ctx, k8sClient.CtrlClient())
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Fprintf(out, "Job %q not found\n", c.App.Name)
			} else {
				fmt.Fprintf(out, "Job %s: active=%d succeeded=%d failed=%d\n\n", c.App.Name, st.Active, st.Succeeded, st.Failed)
			}

			pods, err := k8s.ListPods(ctx, k8sClient.CoreClientset(), c.App.Namespace, job.Labels(c.App.Name))
			if err != nil {
				return err
			}
			var data [][]string
			for _, p := range pods {
				var restarts int32
				for _, cs := range p.Status.ContainerStatuses {
					restarts += cs.RestartCount
				}
				data = append(data, []string{
					p.Name,
					string(p.Status.Phase),
					p.Spec.NodeName,
					strconv.Itoa(int(restarts)),
					units.HumanDuration(time.Since(p.CreationTimestamp.Time)),
				})
			}
			renderTable(out, []string{"POD", "PHASE", "NODE", "RESTARTS", "AGE"}, data)
			fmt.Fprintln(out)

			p := volume.NewProvisioner(k8sClient.CtrlClient(), c.App.Name, c.App.Namespace)
			vst, err := p.Status(ctx, j.Volumes())
			if err != nil {
				return err
			}
			data = nil
			for _, v := range j.Volumes() {
				phase := string(vst[v.Name])
				if phase == "" {
					phase = "Missing"
				}
				data = append(data, []string{v.Name, v.MountPath, v.Size.String(), phase})
			}
			renderTable(out, []string{"VOLUME", "MOUNT PATH", "SIZE", "PHASE"}, data)

			if !watch {
				return nil
			}
			fmt.Fprintln(out)
			ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
			defer cancel()
			return k8s.WatchPods(ctx, k8sClient.CoreClientset(), c.App.Namespace, job.Labels(c.App.Name), func(ctx context.Context, ev k8s.PodEvent) bool {
				if ev.Deleted {
					fmt.Fprintf(out, "%s\tDeleted\n", ev.Pod.Name)
					return false
				}
				phase := ev.Pod.Status.Phase
				fmt.Fprintf(out, "%s\t%s\n", ev.Pod.Name, phase)
				return phase == corev1.PodSucceeded || phase == corev1.PodFailed
			})
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the pods of the job until one of them completes")
	return cmd
}

func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
