package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/llmariner/fine-tuning-env/builder/internal/huggingface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	tcs := []struct {
		name         string
		key          string
		wantNotFound bool
		wantErr      bool
	}{
		{
			name: "found",
			key:  "models/mistral/config.json",
		},
		{
			name:         "no such key",
			key:          "models/mistral/generation_config.json",
			wantNotFound: true,
			wantErr:      true,
		},
		{
			name:         "not found",
			key:          "models/mistral/tokenizer.model",
			wantNotFound: true,
			wantErr:      true,
		},
		{
			name:    "access denied",
			key:     "models/private/config.json",
			wantErr: true,
		},
	}

	d := &fakeDownloader{
		objects: map[string]string{
			"models/mistral/config.json": `{"model_type": "mistral"}`,
		},
		errs: map[string]error{
			"models/mistral/generation_config.json": &smithy.GenericAPIError{Code: "NoSuchKey"},
			"models/mistral/tokenizer.model":        fmt.Errorf("operation error: %w", &smithy.GenericAPIError{Code: "NotFound"}),
			"models/private/config.json":            &smithy.GenericAPIError{Code: "AccessDenied"},
		},
	}
	c := newClient(d, "bucket0")

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			f, err := os.Create(filepath.Join(t.TempDir(), "file"))
			require.NoError(t, err)
			defer func() {
				_ = f.Close()
			}()

			err = c.Download(context.Background(), f, tc.key)
			assert.Equal(t, tc.wantNotFound, errors.Is(err, huggingface.ErrNotFound))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			b, err := os.ReadFile(f.Name())
			require.NoError(t, err)
			assert.Equal(t, d.objects[tc.key], string(b))
		})
	}
}

type fakeDownloader struct {
	objects map[string]string
	errs    map[string]error
}

func (d *fakeDownloader) Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error) {
	if *input.Bucket != "bucket0" {
		return 0, fmt.Errorf("unexpected bucket %q", *input.Bucket)
	}
	if err, ok := d.errs[*input.Key]; ok {
		return 0, err
	}
	content, ok := d.objects[*input.Key]
	if !ok {
		return 0, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	n, err := w.WriteAt([]byte(content), 0)
	return int64(n), err
}
