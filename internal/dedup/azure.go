package dedup

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/sirupsen/logrus"
)

// BlobStore keeps the processed-id list in a single Azure blob, for
// deployments that already run on Azure and would rather not mint a GitHub
// token. Same text format as the gist backend.
type BlobStore struct {
	client        *azblob.Client
	containerName string
	blobName      string
}

var _ Store = (*BlobStore)(nil)

// NewBlobStore creates a blob-backed store using managed identity.
func NewBlobStore(accountName, containerName, blobName string) (*BlobStore, error) {
	if accountName == "" {
		return nil, fmt.Errorf("storage account name is required")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClient(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	store := &BlobStore{
		client:        client,
		containerName: containerName,
		blobName:      blobName,
	}

	if err := store.ensureContainer(); err != nil {
		return nil, fmt.Errorf("failed to ensure container exists: %w", err)
	}

	return store, nil
}

func (s *BlobStore) ensureContainer() error {
	ctx := context.Background()

	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		if !strings.Contains(err.Error(), "ContainerAlreadyExists") {
			return fmt.Errorf("failed to create container: %w", err)
		}
		logrus.Debugf("Container %s already exists", s.containerName)
	} else {
		logrus.Infof("Created container %s", s.containerName)
	}

	return nil
}

// Fetch downloads the id blob. A blob that does not exist yet yields an
// empty set so the first run does not count as a failure.
func (s *BlobStore) Fetch(ctx context.Context) (map[string]struct{}, error) {
	response, err := s.client.DownloadStream(ctx, s.containerName, s.blobName, nil)
	if err != nil {
		if strings.Contains(err.Error(), "BlobNotFound") {
			logrus.Infof("Blob %s does not exist yet, starting with an empty id set", s.blobName)
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("failed to download blob %s: %w", s.blobName, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob content: %w", err)
	}

	ids := parseIDList(string(data))
	logrus.Infof("Fetched %d processed tweet ids from blob storage", len(ids))
	return ids, nil
}

// Update uploads the sorted union of the snapshot and the new ids.
func (s *BlobStore) Update(ctx context.Context, existing map[string]struct{}, newIDs []string) error {
	data := []byte(encodeIDList(existing, newIDs))

	_, err := s.client.UploadBuffer(ctx, s.containerName, s.blobName, data, &azblob.UploadBufferOptions{
		BlockSize:   int64(1024 * 1024),
		Concurrency: 3,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", s.blobName, err)
	}

	logrus.Infof("Updated blob with %d newly processed tweet ids", len(newIDs))
	return nil
}
