package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Select resolves basePath's scheme to a concrete Backend plus the sink
// basePath to pair it with - the way a file-writer deployment picks its
// storage provider from one config string rather than a
// provider-specific flag per cloud:
//
//	s3://bucket/prefix   -> S3, sink basePath "prefix"
//	azure://container/prefix -> Azure (service URL + key from the environment), sink basePath "prefix"
//	gcs://bucket/prefix  -> GCS, sink basePath "prefix"
//	anything else        -> Local rooted at basePath, sink basePath "" (Local.Write already joins its BaseDir)
func Select(ctx context.Context, basePath string) (Backend, string, error) {
	switch {
	case strings.HasPrefix(basePath, "s3://"):
		bucket, prefix := splitBucketPrefix(strings.TrimPrefix(basePath, "s3://"))
		b, err := NewS3(ctx, bucket)
		return b, prefix, err
	case strings.HasPrefix(basePath, "azure://"):
		container, prefix := splitBucketPrefix(strings.TrimPrefix(basePath, "azure://"))
		account := os.Getenv("BEC_AZURE_ACCOUNT")
		key := os.Getenv("BEC_AZURE_KEY")
		if account == "" || key == "" {
			return nil, "", fmt.Errorf("azure backend requires BEC_AZURE_ACCOUNT and BEC_AZURE_KEY")
		}
		cred, err := azblob.NewSharedKeyCredential(account, key)
		if err != nil {
			return nil, "", err
		}
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
		b, err := NewAzure(serviceURL, container, cred)
		return b, prefix, err
	case strings.HasPrefix(basePath, "gcs://"):
		bucket, prefix := splitBucketPrefix(strings.TrimPrefix(basePath, "gcs://"))
		b, err := NewGCS(ctx, bucket)
		return b, prefix, err
	default:
		return &Local{BaseDir: basePath}, "", nil
	}
}

// splitBucketPrefix splits "bucket/some/prefix" into ("bucket",
// "some/prefix"), or ("bucket", "") when there is no prefix.
func splitBucketPrefix(rest string) (bucket, prefix string) {
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return rest, ""
	}
	return rest[:i], rest[i+1:]
}
