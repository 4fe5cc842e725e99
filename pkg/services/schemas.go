package services

import (
	"fmt"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

func object(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

var (
	str          = map[string]any{"type": "string"}
	nonEmptyStr  = map[string]any{"type": "string", "minLength": 1}
	nonNegNumber = map[string]any{"type": "number", "minimum": 0}
)

// nodeDataSchemas describes the data bag of every node type checked on publish.
var nodeDataSchemas = map[models.NodeType]map[string]any{
	models.NodeTypeStart:   object(nil, map[string]any{"text": str}),
	models.NodeTypeMessage: object([]string{"text"}, map[string]any{"text": str}),
	models.NodeTypeInput: object(nil, map[string]any{
		"text": str, "variable": str, "varName": str,
	}),
	models.NodeTypeRating: object(nil, map[string]any{
		"text": str, "errorText": str, "variable": str,
	}),
	models.NodeTypeTemplate: object([]string{"templateId"}, map[string]any{"templateId": nonEmptyStr}),
	models.NodeTypeCondition: object([]string{"conditions"}, map[string]any{
		"conditions": map[string]any{
			"type": "array",
			"items": object([]string{"variable", "operator"}, map[string]any{
				"id":       str,
				"variable": nonEmptyStr,
				"operator": map[string]any{
					"type": "string",
					"enum": []string{"==", "=", "equals", "!=", "notEquals", "contains", ">", "<"},
				},
			}),
		},
	}),
	models.NodeTypeScript: map[string]any{
		"type": "object",
		"anyOf": []any{
			object([]string{"script"}, map[string]any{"script": nonEmptyStr}),
			object([]string{"code"}, map[string]any{"code": nonEmptyStr}),
		},
	},
	models.NodeTypeHTTPRequest: object([]string{"url"}, map[string]any{
		"url": nonEmptyStr,
		"method": map[string]any{
			"type": "string",
			"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"},
		},
		"timeout":      nonNegNumber,
		"responseType": str,
		"responseVar":  str,
		"headers":      map[string]any{"type": []string{"object", "string"}},
		"mappings": map[string]any{
			"type":  "array",
			"items": object([]string{"jsonPath", "varName"}, map[string]any{"jsonPath": nonEmptyStr, "varName": nonEmptyStr}),
		},
	}),
	models.NodeTypeSchedule: object([]string{"scheduleId"}, map[string]any{"scheduleId": nonEmptyStr}),
	models.NodeTypeSetValue: map[string]any{
		"type": "object",
		"anyOf": []any{
			object([]string{"variable"}, map[string]any{"variable": nonEmptyStr}),
			object([]string{"varName"}, map[string]any{"varName": nonEmptyStr}),
		},
	},
	models.NodeTypeDelay:  object([]string{"delay"}, map[string]any{"delay": nonNegNumber}),
	models.NodeTypeGoto:   object([]string{"anchorName"}, map[string]any{"anchorName": nonEmptyStr}),
	models.NodeTypeAnchor: object([]string{"anchorName"}, map[string]any{"anchorName": nonEmptyStr}),
	models.NodeTypeCase:   object(nil, map[string]any{"label": str}),
	models.NodeTypeQueue: object(nil, map[string]any{
		"queue": str, "message": str, "agentId": str, "continueFlow": map[string]any{"type": "boolean"},
	}),
	models.NodeTypeEnd: object(nil, map[string]any{"text": str}),
}

// validateNodeData checks node.Data against the schema of its type.
func validateNodeData(node models.Node) error {
	schema, ok := nodeDataSchemas[node.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNodeType, node.Type)
	}

	data := node.Data
	if data == nil {
		data = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("%w: node %s: %w", ErrInvalidNodeData, node.ID, err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: node %s: %s", ErrInvalidNodeData, node.ID, strings.Join(errs, "; "))
	}

	return nil
}
