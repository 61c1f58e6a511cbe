package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/llmariner/fine-tuning-env/builder/internal/config"
	"github.com/llmariner/fine-tuning-env/builder/internal/huggingface"
	"github.com/llmariner/fine-tuning-env/builder/internal/metrics"
	"github.com/llmariner/fine-tuning-env/builder/internal/modeldownloader"
	"github.com/llmariner/fine-tuning-env/builder/internal/s3"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
)

type modelSource interface {
	Download(ctx context.Context, w io.WriterAt, path string) error
}

// downloadCmd creates a new download command.
// download command is the build step of the image. It downloads the base model and its
// tokenizer into the model path. If the model has already been downloaded, this command
// does nothing.
func downloadCmd() *cobra.Command {
	var (
		opts            commonOpts
		modelPath       string
		metricsTextfile string
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the base model into the model path",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if modelPath != "" {
				c.BaseModel.Path = modelPath
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer cancel()
			ctx = opts.contextWithLogger(ctx)

			src, srcPath, err := newModelSource(ctx, c)
			if err != nil {
				return err
			}
			m := metrics.NewDownloadMonitor()
			if err := modeldownloader.New(c, src, srcPath, m).Download(ctx); err != nil {
				return err
			}

			if metricsTextfile != "" {
				if err := m.WriteToTextfile(metricsTextfile); err != nil {
					return fmt.Errorf("write metrics: %s", err)
				}
				ctrl.LoggerFrom(ctx).Info("Wrote metrics", "path", metricsTextfile)
			}
			return nil
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().StringVar(&modelPath, "model-path", "", "Directory where the model is stored. Overrides baseModel.path")
	cmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "Path of the node-exporter text file where download metrics are written")
	return cmd
}

func newModelSource(ctx context.Context, c *config.Config) (modelSource, string, error) {
	switch c.BaseModel.Source {
	case config.ModelSourceHuggingFace:
		var token string
		if env := c.HuggingFace.TokenEnv; env != "" {
			token = os.Getenv(env)
		}
		return huggingface.NewHubClient(c.HuggingFace.Endpoint, c.BaseModel.ID, c.BaseModel.Revision, token), "", nil
	case config.ModelSourceS3:
		s3Client, err := s3.NewClient(ctx, c.ObjectStore.S3)
		if err != nil {
			return nil, "", err
		}
		return s3Client, c.BaseModel.S3Path, nil
	default:
		return nil, "", fmt.Errorf("unsupported model source: %q", c.BaseModel.Source)
	}
}
