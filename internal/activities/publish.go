package activities

import (
	"bytes"
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/yourorg/fitment-ingest/internal/pipeline"
)

// Publish persists the reviewed upload. When ArchiveURI is set the published file is downloaded
// and written under it; archive failures are logged and do not fail the publish.
func (a *Activities) Publish(ctx context.Context, in PublishInput) (PublishResult, error) {
	defer keepAlive(ctx, "publish")()
	c := a.cfg.Client(in.TenantID)
	resp, err := c.Publish(ctx, in.UploadID)
	if err != nil {
		return PublishResult{}, nonRetryable(err)
	}
	out := PublishResult{Response: *resp}
	if in.ArchiveURI == "" || a.cfg.Store == nil {
		return out, nil
	}

	log := activity.GetLogger(ctx)
	body, name, err := c.Download(ctx, in.UploadID)
	if err != nil {
		log.Warn("Download of published file failed", "uploadID", in.UploadID, "error", err)
		return out, nil
	}
	if name == "" {
		name = resp.Filename
	}
	if name == "" {
		name = in.UploadID + ".csv"
	}
	uri := pipeline.ArchiveURI(in.ArchiveURI, in.TenantID, in.UploadID, name)
	final, err := a.cfg.Store.Put(ctx, uri, bytes.NewReader(body))
	if err != nil {
		log.Warn("Archive of published file failed", "uri", uri, "error", err)
		return out, nil
	}
	out.ArchiveURI = final
	return out, nil
}
