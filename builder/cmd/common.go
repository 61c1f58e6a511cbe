package main

import (
	"context"
	"fmt"
	"log"

	"github.com/go-logr/stdr"
	"github.com/llmariner/fine-tuning-env/builder/internal/config"
	"github.com/llmariner/fine-tuning-env/builder/internal/image"
	"github.com/llmariner/fine-tuning-env/builder/internal/job"
	"github.com/llmariner/fine-tuning-env/builder/internal/volume"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
)

type commonOpts struct {
	path     string
	logLevel int
}

func (o *commonOpts) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.path, "config", "", "Path to the config file")
	cmd.Flags().IntVar(&o.logLevel, "v", 0, "Log level")
	_ = cmd.MarkFlagRequired("config")
}

// loadConfig parses and validates the configuration, including the volume mapping.
func (o *commonOpts) loadConfig() (*config.Config, error) {
	c, err := config.Parse(o.path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	vols, err := volume.FromConfig(c.Volumes)
	if err != nil {
		return nil, fmt.Errorf("volumes: %s", err)
	}
	if err := volume.ValidateMapping(vols, c.BaseModel.Path); err != nil {
		return nil, fmt.Errorf("volumes: %s", err)
	}
	return c, nil
}

// loadDeployConfig loads the configuration of the commands that deploy or inspect the job.
func (o *commonOpts) loadDeployConfig() (*config.Config, error) {
	c, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := c.ValidateDeployment(); err != nil {
		return nil, err
	}
	return c, nil
}

func (o *commonOpts) contextWithLogger(ctx context.Context) context.Context {
	stdr.SetVerbosity(o.logLevel)
	logger := stdr.New(log.Default())
	ctrl.SetLogger(logger)
	return ctrl.LoggerInto(ctx, logger)
}

// newRecipe returns the recipe of the image. The configuration is marshaled with the defaults
// filled in so that the copy in the image does not depend on the defaults of the binary.
func newRecipe(c *config.Config) (*image.Recipe, []byte, error) {
	b, err := c.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal config: %s", err)
	}
	r, err := image.New(c, b)
	if err != nil {
		return nil, nil, fmt.Errorf("image: %s", err)
	}
	return r, b, nil
}

func newJob(c *config.Config) (*job.Job, error) {
	r, _, err := newRecipe(c)
	if err != nil {
		return nil, err
	}
	return job.New(c, r)
}
