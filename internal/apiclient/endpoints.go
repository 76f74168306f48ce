package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/types"
)

// Upload streams a file to POST /uploads. Client-side checks belong to the upload package;
// a 4xx from the service is reported as UploadRejected.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader, kind types.DataKind) (*types.Upload, error) {
	tenantID := c.tenant.ID()
	if tenantID == "" {
		return nil, apperr.Validation("no tenant selected")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("data_type", string(kind)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, r); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	raw, err := c.send(ctx, http.MethodPost, c.endpoint("/uploads", nil), tenantID, mw.FormDataContentType(), pr)
	pr.Close()
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 {
			msg := ae.Message
			if ae.Status == http.StatusRequestEntityTooLarge && msg == "" {
				msg = "file exceeds the upload size limit"
			}
			return nil, apperr.UploadRejected("%s", msg)
		}
		return nil, err
	}

	var up types.Upload
	if err := c.decode("upload", raw, &up); err != nil {
		return nil, apperr.ServerContract("upload response is missing an upload id")
	}
	if up.Filename == "" {
		up.Filename = filename
	}
	if up.DataKind == "" {
		up.DataKind = kind
	}
	return &up, nil
}

// AIMap asks the mapping service for column suggestions.
func (c *Client) AIMap(ctx context.Context, uploadID string, kind types.DataKind) (*types.AIMapResponse, error) {
	var out types.AIMapResponse
	in := map[string]string{"dataType": string(kind)}
	if err := c.postJSON(ctx, "ai map", "/uploads/"+url.PathEscape(uploadID)+"/ai-map", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transform applies the confirmed mappings. mappings may be nil to reuse the server's last set.
func (c *Client) Transform(ctx context.Context, uploadID string, mappings []types.MappingSuggestion) (*types.TransformationResult, error) {
	var out types.TransformationResult
	var in any
	if mappings != nil {
		in = map[string]any{"columnMappings": mappings}
	}
	if err := c.postJSON(ctx, "transform", "/uploads/"+url.PathEscape(uploadID)+"/transform", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Validate(ctx context.Context, uploadID string) (*types.ValidationResult, error) {
	var out types.ValidationResult
	if err := c.postJSON(ctx, "validate", "/uploads/"+url.PathEscape(uploadID)+"/validate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PotentialFitments lists recommendation candidates for a part.
func (c *Client) PotentialFitments(ctx context.Context, partID, strategy string) ([]types.Candidate, error) {
	if strategy == "" {
		strategy = "similarity"
	}
	var out []types.Candidate
	q := url.Values{"strategy": {strategy}}
	if err := c.getJSON(ctx, "potential fitments", "/fitments/potential/"+url.PathEscape(partID), q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Publish(ctx context.Context, uploadID string) (*types.PublishResponse, error) {
	var out types.PublishResponse
	if err := c.postJSON(ctx, "publish", "/uploads/"+url.PathEscape(uploadID)+"/publish", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download fetches the published output. The filename comes from Content-Disposition when present.
func (c *Client) Download(ctx context.Context, uploadID string) ([]byte, string, error) {
	raw, err := c.do(ctx, http.MethodGet, c.endpoint("/uploads/"+url.PathEscape(uploadID)+"/download", nil), nil)
	if err != nil {
		return nil, "", err
	}
	name := ""
	if _, params, err := mime.ParseMediaType(raw.header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	return raw.body, name, nil
}

// Jobs lists one page of jobs for the current tenant.
func (c *Client) Jobs(ctx context.Context, f types.JobFilter) (*types.JobPage, error) {
	q := url.Values{}
	if f.JobType != "" {
		q.Set("job_type", f.JobType)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(f.PerPage))
	}
	var out types.JobPage
	if err := c.getJSON(ctx, "jobs", "/jobs", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JobReviewData(ctx context.Context, jobID string) (*types.JobReviewData, error) {
	var out types.JobReviewData
	if err := c.getJSON(ctx, "job review", "/jobs/"+url.PathEscape(jobID)+"/review", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveJobRows persists the selected rows of a job in one request.
func (c *Client) ApproveJobRows(ctx context.Context, jobID string, rowIDs []string) (*types.ApproveResponse, error) {
	if len(rowIDs) == 0 {
		return nil, apperr.Validation("select at least one row to approve")
	}
	var out types.ApproveResponse
	in := map[string]any{"row_ids": rowIDs}
	if err := c.postJSON(ctx, "approve", "/jobs/"+url.PathEscape(jobID)+"/approve", in, &out); err != nil {
		return nil, fmt.Errorf("approve job %s: %w", jobID, err)
	}
	return &out, nil
}
