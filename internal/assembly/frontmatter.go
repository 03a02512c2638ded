package assembly

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrontMatter is the metadata block that opens every context.
type FrontMatter struct {
	SessionNumber        int      `yaml:"session_number"`
	CurrentDate          string   `yaml:"current_date"`
	DaysSinceLastSession *int     `yaml:"days_since_last_session"`
	ActionSteps          []string `yaml:"last_session_action_steps"`
	OpenThreads          []string `yaml:"last_session_open_threads"`
}

type frontMatterDoc struct {
	SessionContext FrontMatter `yaml:"session_context"`
}

const fence = "---\n"

// Render returns the YAML block between --- fences, newline terminated.
func (f FrontMatter) Render() (string, error) {
	if f.ActionSteps == nil {
		f.ActionSteps = []string{}
	}
	if f.OpenThreads == nil {
		f.OpenThreads = []string{}
	}

	var buf bytes.Buffer
	buf.WriteString(fence)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(frontMatterDoc{SessionContext: f}); err != nil {
		return "", fmt.Errorf("assembly: front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("assembly: front matter: %w", err)
	}
	buf.WriteString(fence)
	return buf.String(), nil
}

// ParseFrontMatter decodes the front matter at the start of an assembled
// context.
func ParseFrontMatter(text string) (*FrontMatter, error) {
	if !strings.HasPrefix(text, fence) {
		return nil, fmt.Errorf("assembly: missing front matter")
	}
	body := text[len(fence):]
	end := strings.Index(body, "\n"+fence)
	if end < 0 {
		return nil, fmt.Errorf("assembly: unterminated front matter")
	}
	var doc frontMatterDoc
	if err := yaml.Unmarshal([]byte(body[:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("assembly: front matter: %w", err)
	}
	return &doc.SessionContext, nil
}
