package backend

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Azure writes master files as block blobs into a single container,
// named by the caller at construction (one file_writer deployment talks
// to one container).
type Azure struct {
	Container string
	client    *azblob.Client
}

func NewAzure(serviceURL, container string, cred *azblob.SharedKeyCredential) (*Azure, error) {
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &Azure{Container: container, client: client}, nil
}

func (a *Azure) Provider() string { return "azure" }

func (a *Azure) Write(ctx context.Context, path string, data []byte) error {
	_, err := a.client.UploadBuffer(ctx, a.Container, path, data, nil)
	return err
}
