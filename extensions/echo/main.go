// Command echo is a sample lore extension. Build it as a Go plugin from the
// same module version as the lore binary that will load it:
//
//	go build -buildmode=plugin -o extensions/echo/echo.so ./extensions/echo
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/lore/internal/extension"
)

// LoreExtension is resolved by name before any Default export.
var LoreExtension = &extension.Extension{
	Name:    "echo",
	Version: "0.1.0",
	Tools: []extension.Tool{
		{
			Name:        "echo",
			Description: "Return the arguments unchanged",
			Handler: func(_ context.Context, args map[string]any, _ extension.ToolContext) (any, error) {
				return args, nil
			},
		},
		{
			Name:        "shout",
			Description: "Upper-case the text argument",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"text"},
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
			},
			Handler: shout,
		},
		{
			Name:        "whereami",
			Description: "Report the tool context the host passed in",
			Handler: func(_ context.Context, _ map[string]any, tc extension.ToolContext) (any, error) {
				if tc.Logger != nil {
					tc.Logger.Info("whereami called", "mode", tc.Mode)
				}
				return map[string]any{"mode": tc.Mode, "data_dir": tc.DataDir, "db_path": tc.DBPath}, nil
			},
		},
	},
}

func shout(_ context.Context, args map[string]any, _ extension.ToolContext) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text must be a string")
	}
	return strings.ToUpper(text), nil
}

func main() {}
