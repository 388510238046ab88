// Package persona defines the fixed, ordered set of personas that answer a
// conversation. The table is immutable for the lifetime of the process.
package persona

import (
	"errors"
	"fmt"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

// ErrPersonaNotFound is returned when an id or position does not name a persona.
var ErrPersonaNotFound = errors.New("persona not found")

// ID is the stable identifier of a persona.
type ID string

const (
	IDRequirements ID = "prompt-agent"
	IDBuild        ID = "coder-agent"
	IDReview       ID = "reviewer-agent"
	IDValidation   ID = "qa-agent"
	IDDeployment   ID = "deployment-agent"
)

// IsValid reports whether id names a registered persona.
func (id ID) IsValid() bool {
	_, ok := byID[id]
	return ok
}

// String returns the identifier.
func (id ID) String() string {
	return string(id)
}

// Persona is the definition of one agent voice.
type Persona struct {
	ID ID `json:"id"`
	// Name is the display name, e.g. "Alex the Interpreter".
	Name string `json:"name"`
	// ShortName owns the matching workflow step, e.g. "Alex".
	ShortName    string      `json:"short_name"`
	Role         string      `json:"role"`
	Instructions string      `json:"instructions"`
	Avatar       string      `json:"avatar"`
	Color        string      `json:"color"`
	Kind         domain.Kind `json:"kind"`
}

// Attribute fills persona attribution on an agent message.
func (p Persona) Attribute(m domain.NewMessage) domain.NewMessage {
	m.Sender = domain.SenderAgent
	m.PersonaName = p.Name
	m.PersonaAvatar = p.Avatar
	m.PersonaColor = p.Color
	if m.Kind == "" {
		m.Kind = p.Kind
	}
	return m
}

var registry = [...]Persona{
	{
		ID:           IDRequirements,
		Name:         "Alex the Interpreter",
		ShortName:    "Alex",
		Role:         "Prompt Architect",
		Instructions: RequirementsInstructions,
		Avatar:       "🎯",
		Color:        "bg-purple-500",
		Kind:         domain.KindMessage,
	},
	{
		ID:           IDBuild,
		Name:         "Morgan the Builder",
		ShortName:    "Morgan",
		Role:         "Full-Stack Developer",
		Instructions: BuildInstructions,
		Avatar:       "💻",
		Color:        "bg-green-500",
		Kind:         domain.KindCode,
	},
	{
		ID:           IDReview,
		Name:         "Jordan the Guardian",
		ShortName:    "Jordan",
		Role:         "Code Reviewer",
		Instructions: ReviewInstructions,
		Avatar:       "🔍",
		Color:        "bg-blue-500",
		Kind:         domain.KindReview,
	},
	{
		ID:           IDValidation,
		Name:         "Riley the Validator",
		ShortName:    "Riley",
		Role:         "QA Engineer",
		Instructions: ValidationInstructions,
		Avatar:       "🧪",
		Color:        "bg-orange-500",
		Kind:         domain.KindTest,
	},
	{
		ID:           IDDeployment,
		Name:         "Casey the Deployer",
		ShortName:    "Casey",
		Role:         "DevOps Engineer",
		Instructions: DeploymentInstructions,
		Avatar:       "🚀",
		Color:        "bg-red-500",
		Kind:         domain.KindDeployment,
	},
}

var byID = func() map[ID]int {
	m := make(map[ID]int, len(registry))
	for i, p := range registry {
		m[p.ID] = i
	}
	return m
}()

// Count is the number of registered personas.
const Count = len(registry)

// Get returns the persona with the given id.
func Get(id ID) (Persona, error) {
	i, ok := byID[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: id=%q", ErrPersonaNotFound, id)
	}
	return registry[i], nil
}

// At returns the persona at a 0-based pipeline position.
func At(index int) (Persona, error) {
	if index < 0 || index >= len(registry) {
		return Persona{}, fmt.Errorf("%w: index=%d", ErrPersonaNotFound, index)
	}
	return registry[index], nil
}

// All returns the personas in pipeline order. The slice is a copy.
func All() []Persona {
	out := make([]Persona, len(registry))
	copy(out, registry[:])
	return out
}

// Requirements is the persona that answers every user turn.
func Requirements() Persona { return registry[0] }

// Build is the persona that produces code in the background after the first turn.
func Build() Persona { return registry[1] }
