package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

func init() {
	Register("azure", newAzureBucket)
}

// azureBucket is the production staging area: a container in Azure Blob
// Storage that the Snowflake external stage points at.
type azureBucket struct {
	client    *azblob.Client
	container string
}

func newAzureBucket(_ context.Context, cfg Config) (Bucket, error) {
	if strings.TrimSpace(cfg.ConnectionString) == "" {
		return nil, errors.New("staging azure: connection string is required (AZURE_CONNECTION_STRING)")
	}
	if strings.TrimSpace(cfg.Container) == "" {
		return nil, errors.New("staging azure: container is required")
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("staging azure: %w", err)
	}
	return &azureBucket{client: client, container: cfg.Container}, nil
}

func (b *azureBucket) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	// Block blobs become visible only when the block list is committed.
	_, err := b.client.UploadStream(ctx, b.container, key, r, nil)
	return err
}

func (b *azureBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, err
	}
	return resp.Body, nil
}

func (b *azureBucket) List(ctx context.Context, prefix string) ([]string, error) {
	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item != nil && item.Name != nil {
				keys = append(keys, *item.Name)
			}
		}
	}
	return keys, nil
}

func (b *azureBucket) Location(key string) string {
	return strings.TrimSuffix(b.client.URL(), "/") + "/" + b.container + "/" + key
}
