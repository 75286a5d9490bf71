package api

import (
	"fmt"

	"github.com/mattjoyce/lore/internal/extension"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one tool-call path per
// installed extension. Tools are only known to the extension module itself,
// so the tool name stays a path parameter.
func buildOpenAPIDoc(installed []*extension.Installed) map[string]any {
	paths := map[string]any{}
	for _, ext := range installed {
		paths[fmt.Sprintf("/extensions/%s/tools/{tool}", ext.Name)] = map[string]any{
			"post": buildCallOperation(ext),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Lore Extensions",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func buildCallOperation(ext *extension.Installed) map[string]any {
	summary := ext.Description
	if summary == "" {
		summary = fmt.Sprintf("Call a tool of %s", ext.Name)
	}
	return map[string]any{
		"operationId": ext.Name + "__call",
		"summary":     summary,
		"tags":        []string{ext.Name},
		"parameters": []any{map[string]any{
			"name":     "tool",
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "string"},
		}},
		"requestBody": map[string]any{
			"required": false,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"args": map[string]any{"type": "object"},
						},
					},
				},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{"description": "Tool result"},
			"404": map[string]any{"description": "Extension or tool not found"},
			"422": map[string]any{"description": "Tool handler failed"},
			"502": map[string]any{"description": "Worker failed"},
			"503": map[string]any{"description": "Extension unavailable"},
			"504": map[string]any{"description": "Tool timed out"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
}
