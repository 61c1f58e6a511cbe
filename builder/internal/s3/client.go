package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	laws "github.com/llmariner/common/pkg/aws"
	"github.com/llmariner/fine-tuning-env/builder/internal/config"
	"github.com/llmariner/fine-tuning-env/builder/internal/huggingface"
)

const (
	// Shards of a 7B model are a few GiB each.
	partSize    int64 = 128 * 1024 * 1024
	concurrency       = 8
)

type downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// NewClient returns a client that reads model files from the bucket of the S3 mirror.
func NewClient(ctx context.Context, c config.S3Config) (*Client, error) {
	opts := laws.NewS3ClientOptions{
		EndpointURL: c.EndpointURL,
		Region:      c.Region,
	}
	if ar := c.AssumeRole; ar != nil {
		opts.AssumeRole = &laws.AssumeRole{
			RoleARN:    ar.RoleARN,
			ExternalID: ar.ExternalID,
		}
	}
	svc, err := laws.NewS3Client(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("new s3 client: %s", err)
	}
	d := manager.NewDownloader(svc, func(d *manager.Downloader) {
		d.PartSize = partSize
		d.Concurrency = concurrency
	})
	return newClient(d, c.Bucket), nil
}

func newClient(d downloader, bucket string) *Client {
	return &Client{
		downloader: d,
		bucket:     bucket,
	}
}

// Client downloads model files from an S3 mirror of the model repository.
type Client struct {
	downloader downloader
	bucket     string
}

// Download downloads the object at key in parts and writes them to w concurrently.
// A missing object is reported as huggingface.ErrNotFound so that optional model files
// are skipped the same way as with the Hugging Face Hub.
func (c *Client) Download(ctx context.Context, w io.WriterAt, key string) error {
	_, err := c.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	if isNoSuchKey(err) {
		return fmt.Errorf("s3://%s/%s: %w", c.bucket, key, huggingface.ErrNotFound)
	}
	return fmt.Errorf("s3://%s/%s: %s", c.bucket, key, err)
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	default:
		return false
	}
}
