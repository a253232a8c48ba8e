package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStore writes screenshots to a Cloud Storage bucket. Objects are never
// overwritten.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCSStore uses application default credentials. A non-empty endpoint
// points the client at an emulator.
func NewGCSStore(ctx context.Context, bucket, endpoint string) (*GCSStore, error) {
	if bucket == "" {
		return nil, eris.New("screenshots.bucket is required for the gcs backend")
	}
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "create storage client")
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

func (s *GCSStore) Save(ctx context.Context, name string, png []byte) (string, error) {
	ref := "gs://" + s.name + "/" + name
	w := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "image/png"

	if _, err := io.Copy(w, bytes.NewReader(png)); err != nil {
		_ = w.Close()
		return "", eris.Wrapf(err, "write %s", ref)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			zap.L().Debug("screenshot already stored", zap.String("ref", ref))
			return ref, nil
		}
		return "", eris.Wrapf(err, "finalize %s", ref)
	}
	return ref, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
