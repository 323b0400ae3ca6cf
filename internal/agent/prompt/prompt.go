// Package prompt renders the system prompt sent to the model when drafting.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"strings"
	"text/template"

	"kairos/internal/agent/contextpack"
)

// TemplateVersion identifies the prompt wording. Bump it whenever
// templates/system.tmpl changes so drafts can be traced to the prompt that
// produced them.
const TemplateVersion = "2025-03-01.1"

//go:embed templates/system.tmpl
var templates embed.FS

var system = template.Must(template.ParseFS(templates, "templates/system.tmpl"))

// Agent is the part of an agent profile the prompt describes.
type Agent struct {
	ID          string
	Name        string
	Description string
	Rules       []string
	OutputShape string
}

// RenderSystem renders the system prompt for agent over pack. The result is a
// pure function of its inputs.
func RenderSystem(agent Agent, pack contextpack.Pack) (string, error) {
	if strings.TrimSpace(agent.OutputShape) == "" {
		return "", errors.New("agent output shape is required")
	}
	ctxJSON, err := pack.JSON()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = system.Execute(&buf, struct {
		Agent   Agent
		Pack    contextpack.Pack
		Context string
	}{agent, pack, ctxJSON})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// UserMessage wraps the user's request.
func UserMessage(message string) string {
	return "Request:\n" + strings.TrimSpace(message)
}
