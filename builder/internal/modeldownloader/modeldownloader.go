package modeldownloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/llmariner/fine-tuning-env/builder/internal/config"
	"github.com/llmariner/fine-tuning-env/builder/internal/huggingface"
	"github.com/llmariner/fine-tuning-env/builder/internal/tokenizer"
	ctrl "sigs.k8s.io/controller-runtime"
)

const completionIndicationFilename = "completed.txt"

type source interface {
	Download(ctx context.Context, f io.WriterAt, path string) error
}

type monitor interface {
	ObserveFile(modelID string, size int64, elapsed time.Duration)
	ObserveCompleted(modelID string, t time.Time)
}

// New returns a new downloader of the base model in the configuration.
func New(c *config.Config, src source, srcPath string, monitor monitor) *D {
	return &D{
		modelID:  c.BaseModel.ID,
		modelDir: c.BaseModel.Path,
		srcPath:  srcPath,
		src:      src,
		settings: tokenizer.Settings{
			ModelMaxLength: c.Tokenizer.ModelMaxLength,
			PaddingSide:    c.Tokenizer.PaddingSide,
			AddEOSToken:    c.Tokenizer.AddEOSToken,
			PadWithEOS:     c.Tokenizer.PadWithEOS,
		},
		maxConcurrency: c.HuggingFace.MaxConcurrentDownloads,
		monitor:        monitor,
	}
}

// D is a downloader. It bakes the model weights and the tokenizer into the model directory.
type D struct {
	modelID  string
	modelDir string
	srcPath  string
	src      source
	settings tokenizer.Settings

	maxConcurrency int
	monitor        monitor
}

// ModelDir returns the directory where the model is stored.
func (d *D) ModelDir() string {
	return d.modelDir
}

// CompletionIndicationFilePath returns the path of the file created once the download completes.
func (d *D) CompletionIndicationFilePath() string {
	return filepath.Join(d.modelDir, completionIndicationFilename)
}

// IsDownloaded returns true if the model has been downloaded by a previous run.
func (d *D) IsDownloaded() (bool, error) {
	if _, err := os.Stat(d.CompletionIndicationFilePath()); err != nil {
		if !os.IsNotExist(err) {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Download downloads the model and saves the tokenizer with the configured settings.
func (d *D) Download(ctx context.Context) error {
	log := ctrl.LoggerFrom(ctx).WithValues("model", d.modelID)

	// Check if the completion indication file exists. If so, download should have been completed with a previous run. Do not download again.
	done, err := d.IsDownloaded()
	if err != nil {
		return err
	}
	if done {
		log.Info("The model has already been downloaded. Skipping the download", "path", d.modelDir)
		return nil
	}

	log.Info("Downloading the model", "path", d.modelDir)
	opts := huggingface.Options{
		MaxConcurrency: d.maxConcurrency,
		OnDownloaded: func(filename string, size int64, elapsed time.Duration) {
			d.monitor.ObserveFile(d.modelID, size, elapsed)
		},
	}
	if err := huggingface.DownloadModelFiles(ctrl.LoggerInto(ctx, log), d.src, d.srcPath, d.modelDir, opts); err != nil {
		return fmt.Errorf("download: %s", err)
	}

	if err := tokenizer.Finalize(d.modelDir, d.settings); err != nil {
		return fmt.Errorf("finalize tokenizer: %s", err)
	}
	tc, err := tokenizer.Load(d.modelDir)
	if err != nil {
		return fmt.Errorf("load tokenizer: %s", err)
	}
	if err := tokenizer.Verify(tc, d.settings); err != nil {
		return fmt.Errorf("verify tokenizer: %s", err)
	}
	log.Info("Saved the tokenizer", "modelMaxLength", tc.ModelMaxLength, "paddingSide", tc.PaddingSide, "padToken", tc.PadToken)

	// Create a file that indicates the completion of model download.
	f, err := os.Create(d.CompletionIndicationFilePath())
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	d.monitor.ObserveCompleted(d.modelID, time.Now())
	log.Info("Downloaded the model", "path", d.modelDir)

	return nil
}
