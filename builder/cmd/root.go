package main

import "github.com/spf13/cobra"

// rootCmd is the root of the command-line application.
var rootCmd = &cobra.Command{
	Use:   "builder",
	Short: "Builds and deploys the environment for fine-tuning a language model",
}

// kubeconfig is the path to the kubeconfig file used by the commands that talk to a cluster.
var kubeconfig string

func init() {
	rootCmd.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "Path to the kubeconfig file. Defaults to KUBECONFIG, the in-cluster config or ~/.kube/config")
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(volumesCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(deployCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.SilenceUsage = true
}
