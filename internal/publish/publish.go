// Package publish copies finished artifacts to object storage.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

// maxParallelUploads bounds concurrent PutObject calls
const maxParallelUploads = 4

// Publisher uploads local files and returns their public URLs in input order
type Publisher interface {
	Publish(ctx context.Context, paths ...string) ([]string, error)
}

// Nop publishes nothing
type Nop struct{}

func (Nop) Publish(context.Context, ...string) ([]string, error) {
	return []string{}, nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads artifacts under prefix in bucket
type S3Publisher struct {
	client putObjectAPI
	bucket string
	prefix string
	region string
	logger *slog.Logger
}

// NewS3Publisher loads the default AWS configuration (environment, shared
// config, instance role). An empty region keeps the SDK's resolution.
func NewS3Publisher(ctx context.Context, bucket, prefix, region string, logger *slog.Logger) (*S3Publisher, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newS3Publisher(s3.NewFromConfig(cfg), bucket, prefix, cfg.Region, logger), nil
}

func newS3Publisher(client putObjectAPI, bucket, prefix, region string, logger *slog.Logger) *S3Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		region: region,
		logger: logger,
	}
}

// Key is the object key for a local file
func (p *S3Publisher) Key(local string) string {
	return path.Join(p.prefix, filepath.Base(local))
}

// URL is the virtual-hosted URL of key
func (p *S3Publisher) URL(key string) string {
	if p.region == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", p.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.bucket, p.region, key)
}

// Publish uploads paths concurrently. Any failure fails the whole call.
func (p *S3Publisher) Publish(ctx context.Context, paths ...string) ([]string, error) {
	urls := make([]string, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, local := range paths {
		g.Go(func() error {
			key := p.Key(local)
			if err := p.put(ctx, local, key); err != nil {
				return fmt.Errorf("upload %s: %w", filepath.Base(local), err)
			}
			urls[i] = p.URL(key)
			p.logger.Debug("published artifact", "bucket", p.bucket, "key", key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (p *S3Publisher) put(ctx context.Context, local, key string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	contentType := mime.TypeByExtension(filepath.Ext(local))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	return err
}
