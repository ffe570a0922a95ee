package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/eigo-partner/backend/internal/model/persona"
)

// PromptTemplate defines the structure for persona prompts
type PromptTemplate struct {
	Intro string
	Rules []string
}

// PersonaPromptManager manages prompt templates for different personas
type PersonaPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPersonaPromptManager creates a new prompt manager with default templates
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given persona
func (pm *PersonaPromptManager) GetPromptTemplate(personaID string) (*PromptTemplate, error) {
	template, exists := pm.templates[personaID]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", personaID)
	}
	return template, nil
}

// BuildSystemPrompt renders the system instruction for the persona. Guidelines
// on the persona take precedence over the template's rules.
func (pm *PersonaPromptManager) BuildSystemPrompt(p *persona.Persona) string {
	template, err := pm.GetPromptTemplate(p.ID)
	if err != nil {
		return pm.buildBasicSystemPrompt(p)
	}

	rules := p.Guidelines
	if len(rules) == 0 {
		rules = template.Rules
	}
	return renderPrompt(template.Intro, rules)
}

func (pm *PersonaPromptManager) buildBasicSystemPrompt(p *persona.Persona) string {
	audience := p.Audience
	if audience == "" {
		audience = "English learners"
	}
	intro := fmt.Sprintf("You are %s, a %s English conversation partner for %s. Your goal is to help them practice speaking in a relaxed environment.",
		p.Name, joinTone(p.Tone), audience)
	return renderPrompt(intro, p.Guidelines)
}

func renderPrompt(intro string, rules []string) string {
	var b strings.Builder
	b.WriteString(intro)
	for _, rule := range rules {
		b.WriteString("\n- ")
		b.WriteString(rule)
	}
	return b.String()
}

// joinTone turns "friendly, patient, encouraging" into "friendly, patient and encouraging".
func joinTone(tone string) string {
	var parts []string
	for _, p := range strings.Split(tone, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return "friendly"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

// loadDefaultTemplates loads the default prompt templates for built-in personas
func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates[persona.DefaultID] = &PromptTemplate{
		Intro: "You are Kai, a friendly and patient English conversation partner for Japanese beginners. Your goal is to help them practice speaking in a relaxed environment.",
		Rules: []string{
			"Keep your responses simple, clear, and encouraging. Use short sentences.",
			"Ask natural follow-up questions to keep the conversation flowing.",
			"Be positive and supportive.",
			"Your responses should be in English.",
		},
	}
}
