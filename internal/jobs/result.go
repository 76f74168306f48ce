package jobs

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/yourorg/fitment-ingest/internal/normalize"
)

// Job types with a known result shape.
const (
	TypeFitments = "fitments"
	TypeProducts = "products"
)

// Result is the typed form of a job's result payload. It is one of
// FitmentsResult, ProductsResult or UnknownResult.
type Result interface {
	isResult()
}

// FitmentsResult is the outcome of a fitments import.
type FitmentsResult struct {
	Created int    `json:"fitments_created"`
	Failed  int    `json:"fitments_failed"`
	Error   string `json:"error,omitempty"`
}

// ProductsResult is the outcome of a products import.
type ProductsResult struct {
	Created int    `json:"products_created"`
	Failed  int    `json:"products_failed"`
	Error   string `json:"error,omitempty"`
}

// UnknownResult carries the payload of any other job type untouched.
type UnknownResult struct {
	JobType string         `json:"job_type"`
	Raw     map[string]any `json:"raw,omitempty"`
}

func (FitmentsResult) isResult() {}
func (ProductsResult) isResult() {}
func (UnknownResult) isResult()  {}

// ParseResult decodes raw according to jobType. Counts may arrive as numbers or numeric strings.
func ParseResult(jobType string, raw map[string]any) Result {
	switch normalize.Status(jobType) {
	case TypeFitments, "fitment", "fitments_import":
		return FitmentsResult{
			Created: intField(raw, "fitments_created", "created", "created_count"),
			Failed:  intField(raw, "fitments_failed", "failed", "failed_count"),
			Error:   stringField(raw, "error", "error_message", "message"),
		}
	case TypeProducts, "product", "products_import":
		return ProductsResult{
			Created: intField(raw, "products_created", "created", "created_count"),
			Failed:  intField(raw, "products_failed", "failed", "failed_count"),
			Error:   stringField(raw, "error", "error_message", "message"),
		}
	default:
		return UnknownResult{JobType: jobType, Raw: raw}
	}
}

func intField(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(math.Max(v, 0))
		case int:
			return max(v, 0)
		case int64:
			return int(max(v, 0))
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(max(n, 0))
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return max(n, 0)
			}
		}
	}
	return 0
}

func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
