package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/c360/skybridge/errors"
	"github.com/c360/skybridge/mapping"
)

// URLSigner issues presigned download URLs for stored assets. It is
// satisfied by blobstore.Presigner.
type URLSigner interface {
	PresignedGet(ctx context.Context, objectPath string, expiry time.Duration) (*url.URL, error)
}

// ImageUploader forwards image bytes into an engine task. It is
// satisfied by odm.Client.
type ImageUploader interface {
	UploadImage(ctx context.Context, projectID int, taskID, filename string, data []byte) error
}

// JobCache is the memory-only job lookup the relay uses. It is
// satisfied by mapping.Mapper.
type JobCache interface {
	CachedJob(key mapping.DomainKey) (mapping.JobMapping, bool)
}

// maxAssetSize bounds a single fetched asset.
const maxAssetSize = 256 << 20

// AssetRelay moves uploaded imagery from the blob store into the
// mission's processing task. It deliberately consults only the memory
// cache: an asset with no cached job means the mission-create event
// never succeeded here, an ordering violation that must surface
// instead of materializing a job without processing options.
type AssetRelay struct {
	jobs    JobCache
	signer  URLSigner
	engine  ImageUploader
	fetcher *http.Client
	expiry  time.Duration
	maxSize int64
	logger  Logger
	metrics *Metrics
}

// NewAssetRelay creates a relay. expiry bounds the lifetime of the
// presigned URLs it requests.
func NewAssetRelay(jobs JobCache, signer URLSigner, engine ImageUploader, expiry time.Duration, logger Logger, metrics *Metrics) (*AssetRelay, error) {
	if jobs == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "AssetRelay", "NewAssetRelay", "job cache is required")
	}
	if signer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "AssetRelay", "NewAssetRelay", "signer is required")
	}
	if engine == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "AssetRelay", "NewAssetRelay", "engine is required")
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &AssetRelay{
		jobs:    jobs,
		signer:  signer,
		engine:  engine,
		fetcher: &http.Client{Timeout: 2 * time.Minute},
		expiry:  expiry,
		maxSize: maxAssetSize,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// HandleAssetUploaded fetches the asset's bytes via a presigned URL
// and forwards them to the mission's task.
func (r *AssetRelay) HandleAssetUploaded(ctx context.Context, evt AssetUploadedEvent) error {
	key := evt.Key()

	job, ok := r.jobs.CachedJob(key)
	if !ok {
		return errors.WrapInvalid(errors.ErrNoJobForMission, "AssetRelay", "HandleAssetUploaded", "no job for mission "+key.String())
	}

	signed, err := r.signer.PresignedGet(ctx, evt.Asset.Path, r.expiry)
	if err != nil {
		return errors.Wrap(err, "AssetRelay", "HandleAssetUploaded", "presign "+evt.Asset.Path)
	}

	data, err := r.fetch(ctx, signed)
	if err != nil {
		return errors.Wrap(err, "AssetRelay", "HandleAssetUploaded", "fetch "+evt.Asset.Path)
	}

	filename := evt.Asset.Name
	if filename == "" {
		filename = evt.Asset.Path
	}

	if err := r.engine.UploadImage(ctx, job.ProjectID, job.TaskID, filename, data); err != nil {
		return errors.Wrap(err, "AssetRelay", "HandleAssetUploaded", "upload "+filename+" to task "+job.TaskID)
	}

	r.metrics.recordAssetRelayed()
	r.logger.Printf("relayed asset %s (%d bytes) to task %s", filename, len(data), job.TaskID)
	return nil
}

func (r *AssetRelay) fetch(ctx context.Context, signed *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed.String(), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "AssetRelay", "fetch", "build request")
	}

	resp, err := r.fetcher.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "AssetRelay", "fetch", "get presigned url")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.WrapTransient(
			fmt.Errorf("blob store returned %s", resp.Status),
			"AssetRelay", "fetch", "get presigned url")
	}

	// Read one byte past the limit so an oversize asset is rejected
	// rather than truncated and forwarded corrupt.
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize+1))
	if err != nil {
		return nil, errors.WrapTransient(err, "AssetRelay", "fetch", "read asset body")
	}
	if int64(len(data)) > r.maxSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("asset exceeds %d byte limit", r.maxSize),
			"AssetRelay", "fetch", "read asset body")
	}

	return data, nil
}
