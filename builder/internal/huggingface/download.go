package huggingface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
)

type source interface {
	Download(ctx context.Context, f io.WriterAt, path string) error
}

// Options are the options of DownloadModelFiles.
type Options struct {
	// MaxConcurrency is the maximum number of files downloaded at the same time.
	MaxConcurrency int
	// OnDownloaded is called after each file is downloaded.
	OnDownloaded func(filename string, size int64, elapsed time.Duration)
}

type file struct {
	name       string
	isOptional bool
}

// tokenizerFiles are the files saved together with a tokenizer.
var tokenizerFiles = []file{
	{name: "special_tokens_map.json", isOptional: false},
	{name: "tokenizer.json", isOptional: false},
	{name: "tokenizer_config.json", isOptional: false},
	// Sentencepiece tokenizers (e.g., Llama, Mistral) also ship their model file.
	{name: "tokenizer.model", isOptional: true},
}

// DownloadModelFiles downloads the weights, the configuration and the tokenizer of a model
// stored in the Hugging Face format from srcPath to destDir.
func DownloadModelFiles(ctx context.Context, src source, srcPath string, destDir string, opts Options) error {
	log := ctrl.LoggerFrom(ctx)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create directory: %s", err)
	}

	// Check if "model.safetensors.index.json" exists.
	// If exists, download the file and unmarshal so that we can extract the safetensors file names.
	// Otherwise download "model.safetensors" as a safetensors file.
	var safetensorFiles []string
	if _, err := downloadFile(ctx, src, path.Join(srcPath, siFilename), filepath.Join(destDir, siFilename)); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("download %s: %s", siFilename, err)
		}
		log.Info("No safetensors index. Using 'model.safetensors' as a safetensors file", "index", siFilename)
		safetensorFiles = append(safetensorFiles, "model.safetensors")
	} else {
		b, err := os.ReadFile(filepath.Join(destDir, siFilename))
		if err != nil {
			return fmt.Errorf("read file %q: %s", siFilename, err)
		}
		si, err := unmarshalSafetensorsIndex(b)
		if err != nil {
			return fmt.Errorf("unmarshal %q: %s", siFilename, err)
		}
		safetensorFiles = si.shardFilenames()
		if len(safetensorFiles) == 0 {
			return fmt.Errorf("%s has an empty weight map", siFilename)
		}
	}

	files := []file{
		{name: "config.json", isOptional: false},
		{name: "generation_config.json", isOptional: true},
	}
	files = append(files, tokenizerFiles...)
	for _, sa := range safetensorFiles {
		files = append(files, file{name: sa, isOptional: false})
	}

	n := opts.MaxConcurrency
	if n <= 0 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for _, f := range files {
		g.Go(func() error {
			fn := f.name
			log.V(1).Info("Downloading", "file", fn)
			start := time.Now()
			size, err := downloadFile(gctx, src, path.Join(srcPath, fn), filepath.Join(destDir, fn))
			if err != nil {
				if f.isOptional && isNotFound(err) {
					log.V(1).Info("Skipped optional file", "file", fn)
					return nil
				}
				return fmt.Errorf("download %s: %s", fn, err)
			}
			elapsed := time.Since(start)
			log.Info("Downloaded", "file", fn, "size", units.HumanSize(float64(size)), "elapsed", elapsed.Round(time.Millisecond))
			if opts.OnDownloaded != nil {
				opts.OnDownloaded(fn, size, elapsed)
			}
			return nil
		})
	}
	return g.Wait()
}

// downloadFile downloads a file to a temporary path first so that an interrupted download
// never leaves a truncated file at the destination.
func downloadFile(ctx context.Context, src source, srcPath, destPath string) (int64, error) {
	tmpPath := destPath + ".partial"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("create file %s: %s", tmpPath, err)
	}
	if err := src.Download(ctx, f, srcPath); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
