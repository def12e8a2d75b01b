package backend

import (
	"context"

	"cloud.google.com/go/storage"
)

// GCS writes master files as objects in a single Google Cloud Storage
// bucket via the standard writer-stream client.
type GCS struct {
	Bucket string
	client *storage.Client
}

func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCS{Bucket: bucket, client: client}, nil
}

func (g *GCS) Provider() string { return "gcs" }

func (g *GCS) Write(ctx context.Context, path string, data []byte) error {
	w := g.client.Bucket(g.Bucket).Object(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
