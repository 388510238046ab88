package workflow

import (
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

//go:embed template.yaml
var templateYAML []byte

type templateFile struct {
	Steps []templateStep `yaml:"steps"`
}

type templateStep struct {
	ID            string `yaml:"id"`
	Persona       string `yaml:"persona"`
	Title         string `yaml:"title"`
	Description   string `yaml:"description"`
	EstimatedTime string `yaml:"estimated_time"`
}

// StepCount is the number of steps in every workflow.
const StepCount = 5

var template = mustParseTemplate(templateYAML)

func parseTemplate(data []byte) ([]domain.Step, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse workflow template: %w", err)
	}
	if len(f.Steps) != StepCount {
		return nil, fmt.Errorf("workflow template has %d steps, want %d", len(f.Steps), StepCount)
	}

	steps := make([]domain.Step, 0, len(f.Steps))
	for i, s := range f.Steps {
		if s.ID == "" || s.Persona == "" || s.Title == "" {
			return nil, fmt.Errorf("workflow template step %d is missing id, persona or title", i)
		}
		steps = append(steps, domain.Step{
			ID:            s.ID,
			PersonaName:   s.Persona,
			Title:         s.Title,
			Status:        domain.StatusPending,
			Description:   s.Description,
			EstimatedTime: s.EstimatedTime,
		})
	}
	return steps, nil
}

func mustParseTemplate(data []byte) []domain.Step {
	steps, err := parseTemplate(data)
	if err != nil {
		panic(err)
	}
	return steps
}

// Template returns a fresh copy of the five steps, all pending.
func Template() []domain.Step {
	return slices.Clone(template)
}
