package registry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sudo-init-do/agenthub/internal/apperr"
	"github.com/sudo-init-do/agenthub/internal/marketplace"
)

const draftSchema = `{
  "type": "object",
  "required": ["name", "provider", "endpoint", "capabilities", "pricing"],
  "properties": {
    "name":        {"type": "string", "minLength": 1, "maxLength": 200},
    "description": {"type": "string", "maxLength": 4000},
    "provider":    {"type": "string", "minLength": 1},
    "endpoint":    {"type": "string", "minLength": 1},
    "capabilities": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string"}
    },
    "pricing": {
      "type": "object",
      "required": ["amount"],
      "properties": {
        "amount":   {"type": "string", "minLength": 1},
        "currency": {"type": "string"},
        "network":  {"type": "string"}
      }
    },
    "metadata": {
      "type": "object",
      "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
    },
    "reputation": {
      "type": "object",
      "properties": {
        "rating":      {"type": "number", "minimum": 0, "maximum": 5},
        "reviews":     {"type": "integer", "minimum": 0},
        "totalJobs":   {"type": "integer", "minimum": 0},
        "successRate": {"type": "number", "minimum": 0, "maximum": 100}
      }
    }
  }
}`

var draftLoader = gojsonschema.NewStringLoader(draftSchema)

// validateDraft checks d against the draft schema and the rules the schema can't express.
func validateDraft(d marketplace.ServiceDraft) error {
	res, err := gojsonschema.Validate(draftLoader, gojsonschema.NewGoLoader(d))
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid service draft")
	}
	if !res.Valid() {
		problems := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			problems = append(problems, e.String())
		}
		return apperr.Validation("invalid service draft: %s", strings.Join(problems, "; ")).
			With("fields", problems)
	}

	if len(marketplace.NormalizeCapabilities(d.Capabilities)) == 0 {
		return apperr.Validation("at least one non-empty capability is required")
	}
	if err := validateEndpoint(d.Endpoint); err != nil {
		return err
	}
	if err := validatePricing(d.Pricing); err != nil {
		return err
	}
	return validateMetadata(d.Metadata)
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Validation("endpoint %q must be an absolute http(s) URL", endpoint)
	}
	return nil
}

func validatePricing(p marketplace.Pricing) error {
	if _, err := p.PriceUnits(); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "invalid pricing")
	}
	return nil
}

func validateMetadata(md map[string]any) error {
	for k, v := range md {
		switch v.(type) {
		case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		default:
			return apperr.Validation("metadata %q must be a primitive, got %s", k, fmt.Sprintf("%T", v))
		}
	}
	return nil
}
