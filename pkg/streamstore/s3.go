package streamstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Collection is a folder of streams in a bucket.
type Collection struct {
	Title  string
	Bucket string
	Prefix string
}

// NewS3Client creates a client for region. Static credentials are taken from
// AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY when both are set; otherwise the
// SDK's default chain applies.
func NewS3Client(region string) (s3iface.S3API, error) {
	if region == "" {
		return nil, fmt.Errorf("missing AWS region")
	}
	cfg := &aws.Config{Region: aws.String(region)}
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return s3.New(sess), nil
}

// Fetcher downloads collection objects into a local directory.
type Fetcher struct {
	client      s3iface.S3API
	dir         string
	concurrency int
}

// NewFetcher creates a fetcher writing into dir with up to four downloads in
// flight.
func NewFetcher(client s3iface.S3API, dir string) *Fetcher {
	return &Fetcher{client: client, dir: dir, concurrency: 4}
}

// Keys lists the stream objects under the collection prefix in listing order.
func (f *Fetcher) Keys(ctx context.Context, c Collection) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.Bucket),
		Prefix: aws.String(c.Prefix),
	}

	var keys []string
	err := f.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") || !IsStream(key) {
				continue
			}
			keys = append(keys, key)
		}
		return !lastPage
	})
	if err != nil {
		return nil, fmt.Errorf("list s3://%s/%s: %w", c.Bucket, c.Prefix, err)
	}
	return keys, nil
}

// FetchAll downloads every stream of the collection.
func (f *Fetcher) FetchAll(ctx context.Context, c Collection) ([]string, error) {
	keys, err := f.Keys(ctx, c)
	if err != nil {
		return nil, err
	}
	return f.download(ctx, c, keys)
}

// FetchSegment downloads count streams starting at start (0-based). The bool
// reports whether the segment reached the end of the collection.
func (f *Fetcher) FetchSegment(ctx context.Context, c Collection, start, count int) ([]string, bool, error) {
	if count <= 0 {
		return nil, false, nil
	}
	keys, err := f.Keys(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if start > len(keys) {
		return nil, true, fmt.Errorf("start index %d beyond %d streams", start, len(keys))
	}

	end := min(start+count, len(keys))
	paths, err := f.download(ctx, c, keys[start:end])
	if err != nil {
		return nil, false, err
	}
	if len(paths) == 0 && end > start {
		return nil, false, fmt.Errorf("no streams downloaded for segment starting at %d", start)
	}
	return paths, end >= len(keys), nil
}

// download fetches keys concurrently. A failed object is logged and skipped;
// only cancellation or an unusable target directory fails the call. Paths
// come back in key order.
func (f *Fetcher) download(ctx context.Context, c Collection, keys []string) ([]string, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, err
	}

	results := make([]string, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			path, err := f.fetchObject(gctx, c.Bucket, key)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logrus.WithFields(logrus.Fields{
					"function": "Fetcher.download",
					"key":      key,
					"error":    err.Error(),
				}).Warn("Streamstore: failed to download stream")
				return nil
			}
			results[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(keys))
	for _, p := range results {
		if p != "" {
			paths = append(paths, p)
		}
	}
	logrus.WithFields(logrus.Fields{
		"function":   "Fetcher.download",
		"collection": c.Title,
		"requested":  len(keys),
		"downloaded": len(paths),
	}).Info("Streamstore: download completed")
	return paths, nil
}

func (f *Fetcher) fetchObject(ctx context.Context, bucket, key string) (string, error) {
	out, err := f.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", err
	}
	defer out.Body.Close()

	localPath := filepath.Join(f.dir, filepath.Base(key))
	tmp, err := os.CreateTemp(f.dir, filepath.Base(key)+".part-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return localPath, nil
}
