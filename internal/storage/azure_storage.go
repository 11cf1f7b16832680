package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureOptions locates an asset container in Azure Blob Storage
type AzureOptions struct {
	AccountName string
	AccountKey  string
	Container   string
	Prefix      string
	// Endpoint overrides the service URL, e.g. for Azurite
	Endpoint string
}

type azureAssetSource struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureAssetSource serves assets from a blob container
func NewAzureAssetSource(opts AzureOptions) (AssetSource, error) {
	if opts.AccountName == "" || opts.AccountKey == "" || opts.Container == "" {
		return nil, fmt.Errorf("azure asset source requires account name, key and container")
	}

	credential, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", opts.AccountName)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	prefix := strings.Trim(opts.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &azureAssetSource{client: client, container: opts.Container, prefix: prefix}, nil
}

func (s *azureAssetSource) List(ctx context.Context) ([]string, error) {
	var names []string
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &s.prefix,
	})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list container %s: %w", s.container, err)
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*item.Name, s.prefix)
			// nested "directories" are not part of the asset set
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *azureAssetSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.prefix+name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("open %q: %w", name, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("download %q: %w", name, err)
	}
	return resp.Body, nil
}

func (s *azureAssetSource) Describe() string {
	return "azure:" + s.container + "/" + s.prefix
}
