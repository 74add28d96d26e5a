// Package registry stores versioned dataset artifacts in S3-compatible
// object storage. Versions are modeled as object keys of the form
// <artifact>/v<N>/<file>; the highest N is the latest version.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client wraps a MinIO connection scoped to one bucket.
type Client struct {
	mc     *minio.Client
	bucket string
	logger *slog.Logger
}

// Config carries the connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Version is one stored artifact version.
type Version struct {
	Number   int
	Key      string
	Size     int64
	Metadata map[string]string
}

// NewClient connects to the endpoint and creates the bucket if missing.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect registry: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created registry bucket", "bucket", cfg.Bucket)
	}

	return &Client{mc: mc, bucket: cfg.Bucket, logger: logger}, nil
}

// Upload stores a local file as version number of the artifact, attaching
// metadata as S3 user metadata. Returns the stored version.
func (c *Client) Upload(ctx context.Context, artifact, file string, number int, metadata map[string]string) (Version, error) {
	key := versionKey(artifact, number, file)
	info, err := c.mc.FPutObject(ctx, c.bucket, key, file, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: metadata,
	})
	if err != nil {
		return Version{}, fmt.Errorf("upload %s: %w", key, err)
	}
	c.logger.Info("uploaded artifact version",
		"artifact", artifact, "version", number, "key", key, "bytes", info.Size)
	return Version{Number: number, Key: key, Size: info.Size, Metadata: metadata}, nil
}

// Download fetches a stored version to a local path.
func (c *Client) Download(ctx context.Context, v Version, path string) error {
	if err := c.mc.FGetObject(ctx, c.bucket, v.Key, path, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("download %s: %w", v.Key, err)
	}
	return nil
}

// Versions lists the artifact's stored versions, oldest first.
func (c *Client) Versions(ctx context.Context, artifact string) ([]Version, error) {
	prefix := artifact + "/"
	var versions []Version
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		n, ok := parseVersionKey(artifact, obj.Key)
		if !ok {
			continue
		}
		versions = append(versions, Version{Number: n, Key: obj.Key, Size: obj.Size})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Number < versions[j].Number })
	return versions, nil
}

// Latest returns the newest stored version, or ok=false when the artifact
// has never been published.
func (c *Client) Latest(ctx context.Context, artifact string) (Version, bool, error) {
	versions, err := c.Versions(ctx, artifact)
	if err != nil || len(versions) == 0 {
		return Version{}, false, err
	}
	latest := versions[len(versions)-1]

	// ListObjects does not return user metadata; fetch it separately so
	// callers can compare schema fingerprints.
	stat, err := c.mc.StatObject(ctx, c.bucket, latest.Key, minio.StatObjectOptions{})
	if err != nil {
		return Version{}, false, fmt.Errorf("stat %s: %w", latest.Key, err)
	}
	latest.Metadata = stat.UserMetadata
	return latest, true, nil
}

// Delete removes a stored version.
func (c *Client) Delete(ctx context.Context, v Version) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, v.Key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", v.Key, err)
	}
	c.logger.Info("deleted artifact version", "key", v.Key, "version", v.Number)
	return nil
}

func versionKey(artifact string, number int, file string) string {
	base := file
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		base = file[i+1:]
	}
	return fmt.Sprintf("%s/v%d/%s", artifact, number, base)
}

// parseVersionKey extracts N from "<artifact>/v<N>/<file>". Keys under the
// artifact prefix that do not follow the layout are ignored.
func parseVersionKey(artifact, key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, artifact+"/")
	if !ok {
		return 0, false
	}
	dir, _, ok := strings.Cut(rest, "/")
	if !ok || !strings.HasPrefix(dir, "v") {
		return 0, false
	}
	n, err := strconv.Atoi(dir[1:])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
