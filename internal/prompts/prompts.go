// Package prompts holds the generation prompt templates, embedded at
// compile time so the binary is self-contained. Templates use {{.Key}}
// placeholders filled by Format.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed generation.json
var promptFiles embed.FS

var (
	loadOnce sync.Once
	loaded   map[string]string
	loadErr  error
)

// Get returns the template registered under key in generation.json.
func Get(key string) (string, error) {
	loadOnce.Do(func() {
		data, err := promptFiles.ReadFile("generation.json")
		if err != nil {
			loadErr = fmt.Errorf("failed to read prompt file: %w", err)
			return
		}
		if err := json.Unmarshal(data, &loaded); err != nil {
			loadErr = fmt.Errorf("failed to parse prompt file: %w", err)
		}
	})
	if loadErr != nil {
		return "", loadErr
	}
	tpl, ok := loaded[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found", key)
	}
	return tpl, nil
}

// MustGet is Get for prompts required at initialization time.
func MustGet(key string) string {
	tpl, err := Get(key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return tpl
}

// Format replaces {{.Key}} placeholders in template with values from data.
func Format(template string, data map[string]string) string {
	result := template
	for key, value := range data {
		result = strings.ReplaceAll(result, "{{."+key+"}}", value)
	}
	return result
}
