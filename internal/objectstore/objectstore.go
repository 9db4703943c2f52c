// Package objectstore verifies that the configured artifact store is
// writable before the gateway starts serving. Only the probe lives here;
// file handling on the request path is a separate collaborator.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Kind selects the storage backend.
type Kind string

const (
	KindDisabled     Kind = "disabled"
	KindFilesystem   Kind = "filesystem"
	KindS3Compatible Kind = "s3_compatible"
)

const probeName = ".modelgate-write-probe"

// Options describe the configured store.
type Options struct {
	Kind         Kind
	Path         string
	Endpoint     string
	Bucket       string
	Region       string
	AccessKeyEnv string
	SecretKeyEnv string
	UseSSL       bool
}

// Info is a verified-or-verifiable handle to the object store.
type Info struct {
	opts   Options
	client *minio.Client
}

// New validates the descriptor and, for S3-compatible stores, constructs
// the client. It performs no I/O; Verify does the probe.
func New(opts Options) (*Info, error) {
	info := &Info{opts: opts}
	switch opts.Kind {
	case KindDisabled:
	case KindFilesystem:
		if opts.Path == "" {
			return nil, fmt.Errorf("filesystem object storage requires a path")
		}
	case KindS3Compatible:
		if opts.Endpoint == "" || opts.Bucket == "" {
			return nil, fmt.Errorf("s3_compatible object storage requires endpoint and bucket")
		}
		accessKey := os.Getenv(opts.AccessKeyEnv)
		secretKey := os.Getenv(opts.SecretKeyEnv)
		client, err := minio.New(opts.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: opts.UseSSL,
			Region: opts.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("create object store client: %w", err)
		}
		info.client = client
	default:
		return nil, fmt.Errorf("unknown object storage type %q", opts.Kind)
	}
	return info, nil
}

// Kind returns the configured backend kind.
func (i *Info) Kind() Kind { return i.opts.Kind }

// Verify performs a trivial write probe against the store. A store that
// cannot absorb the probe cannot absorb request artifacts either, so the
// caller treats failure as fatal.
func (i *Info) Verify(ctx context.Context) error {
	switch i.opts.Kind {
	case KindDisabled:
		return nil
	case KindFilesystem:
		return i.verifyFilesystem()
	case KindS3Compatible:
		return i.verifyS3(ctx)
	}
	return fmt.Errorf("unknown object storage type %q", i.opts.Kind)
}

func (i *Info) verifyFilesystem() error {
	if err := os.MkdirAll(i.opts.Path, 0o755); err != nil {
		return fmt.Errorf("create object storage directory: %w", err)
	}
	probe := filepath.Join(i.opts.Path, probeName)
	if err := os.WriteFile(probe, []byte("probe"), 0o644); err != nil {
		return fmt.Errorf("object storage write probe: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("object storage probe cleanup: %w", err)
	}
	return nil
}

func (i *Info) verifyS3(ctx context.Context) error {
	exists, err := i.client.BucketExists(ctx, i.opts.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", i.opts.Bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", i.opts.Bucket)
	}
	payload := []byte("probe")
	_, err = i.client.PutObject(ctx, i.opts.Bucket, probeName,
		bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("object storage write probe: %w", err)
	}
	if err := i.client.RemoveObject(ctx, i.opts.Bucket, probeName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("object storage probe cleanup: %w", err)
	}
	return nil
}
