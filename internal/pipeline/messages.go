package pipeline

import (
	"fmt"

	"github.com/yourorg/fitment-ingest/internal/mapping"
	"github.com/yourorg/fitment-ingest/internal/types"
	"github.com/yourorg/fitment-ingest/internal/upload"
)

// UploadMessage is the completion message of the Upload stage.
func UploadMessage(filename string, size int64) string {
	return fmt.Sprintf("Uploaded %s (%s)", filename, upload.FormatSize(size))
}

func MappingMessage(set *mapping.Set) string {
	auto, manual, pending := set.Counts()
	return fmt.Sprintf("%d columns mapped, %d auto, %d need review", set.Len(), auto, manual+pending)
}

func TransformMessage(r *types.TransformationResult) string {
	return fmt.Sprintf("Transformed %d rows into %d rows (%d transformations applied)",
		deref(r.OriginalRows), deref(r.TransformedRows), r.TransformationsApplied)
}

func ValidateMessage(r *types.ValidationResult) string {
	return fmt.Sprintf("%d of %d rows valid, %d errors, %d warnings",
		deref(r.ValidRows), deref(r.TotalRows), len(r.Errors), len(r.Warnings))
}

func ReviewMessage(kind types.DataKind, rd *types.ReviewData) string {
	if kind == types.DataFitments && len(rd.Recommendations) > 0 {
		return fmt.Sprintf("%d parts with recommendations", len(rd.Recommendations))
	}
	return "ready to publish"
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// BuildReview assembles Review stage data from validation output and recommendations.
func BuildReview(v *types.ValidationResult, recs map[string][]types.Candidate) *types.ReviewData {
	rd := &types.ReviewData{
		TotalRows:       deref(v.TotalRows),
		ValidRows:       deref(v.ValidRows),
		Errors:          append([]types.Issue{}, v.Errors...),
		Warnings:        append([]types.Issue{}, v.Warnings...),
		Recommendations: recs,
	}
	return rd
}
