package huggingface

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	testutil "github.com/llmariner/fine-tuning-env/common/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadModelFiles(t *testing.T) {
	tcs := []struct {
		name            string
		src             *fakeSource
		downloadedFiles []string
		wantErr         bool
	}{
		{
			name: "no safe tensors index",
			src: &fakeSource{
				files: map[string]string{
					"src/config.json":             "{}",
					"src/generation_config.json":  "{}",
					"src/special_tokens_map.json": "{}",
					"src/tokenizer.json":          "{}",
					"src/tokenizer_config.json":   "{}",
					"src/model.safetensors":       "weights",
				},
			},
			downloadedFiles: []string{
				"config.json",
				"generation_config.json",
				"model.safetensors",
				"special_tokens_map.json",
				"tokenizer.json",
				"tokenizer_config.json",
			},
		},
		{
			name: "safe tensors index",
			src: &fakeSource{
				files: map[string]string{
					"src/model.safetensors.index.json": marshalIndex(t, &safetensorsIndex{
						WeightMap: map[string]string{
							"model.embed_tokens.weight":               "model-00001-of-00002.safetensors",
							"model.layers.0.self_attn.q_proj.qweight": "model-00001-of-00002.safetensors",
							"model.norm.weight":                       "model-00002-of-00002.safetensors",
						},
					}),
					"src/config.json":                      "{}",
					"src/special_tokens_map.json":          "{}",
					"src/tokenizer.json":                   "{}",
					"src/tokenizer_config.json":            "{}",
					"src/tokenizer.model":                  "spm",
					"src/model-00001-of-00002.safetensors": "shard1",
					"src/model-00002-of-00002.safetensors": "shard2",
				},
			},
			downloadedFiles: []string{
				"config.json",
				"model-00001-of-00002.safetensors",
				"model-00002-of-00002.safetensors",
				"model.safetensors.index.json",
				"special_tokens_map.json",
				"tokenizer.json",
				"tokenizer.model",
				"tokenizer_config.json",
			},
		},
		{
			name: "missing required file",
			src: &fakeSource{
				files: map[string]string{
					"src/config.json":       "{}",
					"src/model.safetensors": "weights",
				},
			},
			wantErr: true,
		},
		{
			name: "index download failure",
			src: &fakeSource{
				errs: map[string]error{
					"src/model.safetensors.index.json": fmt.Errorf("access denied"),
				},
			},
			wantErr: true,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			destDir := t.TempDir()
			var mu sync.Mutex
			var recorded []string
			opts := Options{
				MaxConcurrency: 3,
				OnDownloaded: func(filename string, size int64, elapsed time.Duration) {
					mu.Lock()
					defer mu.Unlock()
					recorded = append(recorded, filename)
				},
			}
			err := DownloadModelFiles(testutil.ContextWithLogger(t), tc.src, "src", destDir, opts)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var got []string
			entries, err := os.ReadDir(destDir)
			require.NoError(t, err)
			for _, e := range entries {
				got = append(got, e.Name())
			}
			assert.Equal(t, tc.downloadedFiles, got)

			b, err := os.ReadFile(filepath.Join(destDir, "config.json"))
			require.NoError(t, err)
			assert.Equal(t, "{}", string(b))

			sort.Strings(recorded)
			want := append([]string{}, tc.downloadedFiles...)
			if i := sort.SearchStrings(want, siFilename); i < len(want) && want[i] == siFilename {
				// The index is not reported as it is downloaded before the other files.
				want = append(want[:i], want[i+1:]...)
			}
			assert.Equal(t, want, recorded)
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("config.json: %w", ErrNotFound)))
	assert.False(t, isNotFound(fmt.Errorf("access denied")))
	assert.False(t, isNotFound(fmt.Errorf("timeout")))
}

func marshalIndex(t *testing.T, si *safetensorsIndex) string {
	b, err := json.Marshal(si)
	require.NoError(t, err)
	return string(b)
}

type fakeSource struct {
	files map[string]string
	errs  map[string]error
}

func (s *fakeSource) Download(ctx context.Context, f io.WriterAt, path string) error {
	if err, ok := s.errs[path]; ok {
		return err
	}
	content, ok := s.files[path]
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	_, err := f.WriteAt([]byte(content), 0)
	return err
}
