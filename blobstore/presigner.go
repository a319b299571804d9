// Package blobstore produces presigned download URLs for assets held
// in S3-compatible object storage. Presigning is a local signature
// computation, so no round trip to the store is made.
package blobstore

import (
	"context"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/c360/skybridge/errors"
)

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Presigner signs time-limited GET URLs for objects in one bucket.
type Presigner struct {
	client *minio.Client
	bucket string
}

// NewPresigner creates a presigner for the configured bucket.
func NewPresigner(cfg Config) (*Presigner, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Presigner", "NewPresigner", "endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Presigner", "NewPresigner", "bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Presigner", "NewPresigner", "create object store client")
	}

	return &Presigner{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PresignedGet returns a signed URL that grants read access to one
// object for the given duration.
func (p *Presigner) PresignedGet(ctx context.Context, objectPath string, expiry time.Duration) (*url.URL, error) {
	if objectPath == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Presigner", "PresignedGet", "object path is empty")
	}

	signed, err := p.client.PresignedGetObject(ctx, p.bucket, objectPath, expiry, url.Values{})
	if err != nil {
		return nil, errors.WrapTransient(err, "Presigner", "PresignedGet", "sign object url")
	}

	return signed, nil
}
