package glosa

import (
	"net/http"

	"github.com/clinicflow/tiss/internal/platform/openapi"
)

const apiPrefix = "/api/v1"

// Operations describes the routes registered by RegisterRoutes.
func (h *Handler) Operations() []openapi.Operation {
	listParams := []openapi.Param{
		{Name: "operator", Description: "operator name or key"},
		{Name: "risk_level", Description: "low, medium, high or critical"},
		{Name: "guide_number"},
		{Name: "valid", Type: "boolean"},
		{Name: "since", Description: "RFC 3339 timestamp"},
		{Name: "limit", Type: "integer"},
		{Name: "offset", Type: "integer"},
	}
	return []openapi.Operation{
		{
			Method: http.MethodPost, Path: apiPrefix + "/guides/validate", Tag: "guides",
			Summary: "Validate one guide against the TISS schema", OperationID: "validateGuide",
			RequestSchema: "GuideRequest",
			Responses:     map[int]string{http.StatusOK: "ValidationResponse"},
		},
		{
			Method: http.MethodPost, Path: apiPrefix + "/guides/validate-batch", Tag: "guides",
			Summary: "Validate a batch of guides", OperationID: "validateBatch",
			RequestSchema: "BatchRequest",
			Responses:     map[int]string{http.StatusOK: "ValidationResponse"},
		},
		{
			Method: http.MethodPost, Path: apiPrefix + "/guides/analyze", Tag: "guides",
			Summary: "Score the rejection risk of one guide for an operator", OperationID: "analyzeGuide",
			RequestSchema: "GuideRequest",
			Responses:     map[int]string{http.StatusOK: "Analysis", http.StatusCreated: "Analysis"},
		},
		{
			Method: http.MethodPost, Path: apiPrefix + "/guides/analyze-batch", Tag: "guides",
			Summary: "Score a batch of guides for one operator", OperationID: "analyzeBatch",
			RequestSchema: "BatchRequest",
			Responses:     map[int]string{http.StatusOK: "BatchAnalysis", http.StatusCreated: "BatchAnalysis"},
		},
		{
			Method: http.MethodPost, Path: apiPrefix + "/guides/autofix", Tag: "guides",
			Summary: "Apply safe corrections and revalidate", OperationID: "autofixGuide",
			RequestSchema: "GuideRequest",
			Responses:     map[int]string{http.StatusOK: "AutoFixResult"},
		},
		{
			Method: http.MethodGet, Path: apiPrefix + "/analyses", Tag: "analyses",
			Summary: "List stored analyses", OperationID: "listAnalyses",
			QueryParams: listParams,
			Responses:   map[int]string{http.StatusOK: "AnalysisPage"},
		},
		{
			Method: http.MethodGet, Path: apiPrefix + "/analyses/:id", Tag: "analyses",
			Summary: "Read a stored analysis", OperationID: "getAnalysis",
			Responses: map[int]string{http.StatusOK: "Analysis"},
		},
		{
			Method: http.MethodGet, Path: apiPrefix + "/operators", Tag: "operators",
			Summary: "List operators with rule sets", OperationID: "listOperators",
			Responses: map[int]string{http.StatusOK: "OperatorList"},
		},
		{
			Method: http.MethodGet, Path: apiPrefix + "/operators/:name/rules", Tag: "operators",
			Summary: "List the rules applied to an operator", OperationID: "getOperatorRules",
			Responses: map[int]string{http.StatusOK: "OperatorRules"},
		},
	}
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func ref(name string) map[string]string { return map[string]string{"$ref": "#/components/schemas/" + name} }

func arrayOf(item interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": item}
}

var (
	str     = map[string]string{"type": "string"}
	num     = map[string]string{"type": "number"}
	integer = map[string]string{"type": "integer"}
	boolean = map[string]string{"type": "boolean"}
)

// Schemas returns the component schemas referenced by Operations.
func Schemas() map[string]interface{} {
	finding := object(map[string]interface{}{
		"field": str, "code": str, "message": str,
		"severity": map[string]interface{}{"type": "string", "enum": []string{"error", "warning"}},
	})
	riskLevel := map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high", "critical"}}

	return map[string]interface{}{
		"Guide": map[string]interface{}{
			"type":                 "object",
			"description":          "TISS guide; unknown keys are kept as is",
			"additionalProperties": true,
			"properties": map[string]interface{}{
				"guide_type": str, "guide_number": str, "card_number": str, "beneficiary_name": str,
				"provider_code": str, "professional_name": str, "professional_crm": str,
				"procedure_code": str, "cid_code": str, "total_value": num, "quantity": num,
				"service_date": str, "authorization_number": str, "clinical_indication": str,
				"admission_date": str, "discharge_date": str,
			},
		},
		"GuideRequest": object(map[string]interface{}{
			"guide": ref("Guide"), "guide_type": str, "operator": str,
		}, "guide"),
		"BatchRequest": object(map[string]interface{}{
			"guides": arrayOf(ref("Guide")), "operator": str,
		}, "guides"),
		"ValidationFinding": finding,
		"ValidationResult": object(map[string]interface{}{
			"valid":    boolean,
			"errors":   arrayOf(ref("ValidationFinding")),
			"warnings": arrayOf(ref("ValidationFinding")),
		}),
		"ValidationResponse": object(map[string]interface{}{
			"valid":    boolean,
			"errors":   arrayOf(ref("ValidationFinding")),
			"warnings": arrayOf(ref("ValidationFinding")),
			"summary":  str,
			"count":    integer,
		}),
		"GlosaPrediction": object(map[string]interface{}{
			"issue_type": str, "description": str, "glosa_code": str, "probability": num,
			"suggested_fix": str, "auto_fixable": boolean,
			"source": map[string]interface{}{"type": "string", "enum": []string{"rule", "schema", "augmentor"}},
		}),
		"Analysis": object(map[string]interface{}{
			"id": str, "tenant_id": str, "guide_number": str, "guide_type": str, "operator": str,
			"valid":    boolean,
			"errors":   arrayOf(ref("ValidationFinding")),
			"warnings": arrayOf(ref("ValidationFinding")),
			"probability": num, "risk_level": riskLevel, "can_auto_fix": boolean, "estimated_loss": num,
			"predicted_issues": arrayOf(ref("GlosaPrediction")),
			"created_at":       str,
			"persisted":        boolean,
		}),
		"BatchAnalysis": object(map[string]interface{}{
			"results": arrayOf(ref("Analysis")),
			"summary": object(map[string]interface{}{
				"count": integer, "valid": integer, "auto_fixable": integer, "total_estimated_loss": num,
				"by_risk_level": map[string]interface{}{"type": "object", "additionalProperties": integer},
			}),
			"persisted": boolean,
		}),
		"AutoFixResult": object(map[string]interface{}{
			"guide":      ref("Guide"),
			"changes":    arrayOf(str),
			"validation": ref("ValidationResult"),
		}),
		"AnalysisPage": object(map[string]interface{}{
			"data": arrayOf(ref("Analysis")), "total": integer, "limit": integer, "offset": integer,
			"has_more": boolean,
			"links":    arrayOf(object(map[string]interface{}{"relation": str, "url": str})),
		}),
		"OperatorList": object(map[string]interface{}{
			"operators": arrayOf(object(map[string]interface{}{"key": str, "name": str, "rule_count": integer})),
		}),
		"OperatorRules": object(map[string]interface{}{
			"operator": str,
			"rules": arrayOf(object(map[string]interface{}{
				"code": str, "description": str, "severity": str, "glosa_code": str, "suggested_fix": str,
			})),
		}),
	}
}
