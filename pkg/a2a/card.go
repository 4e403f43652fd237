package a2a

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"
)

// AgentCapabilities describes the capabilities of an agent.
type AgentCapabilities struct {
	// Streaming indicates if the agent supports streaming responses.
	Streaming bool `json:"streaming,omitempty"`
	// PushNotifications indicates if the agent supports push notification mechanisms.
	PushNotifications bool `json:"pushNotifications,omitempty"`
}

// AgentProvider represents the provider or organization behind an agent.
type AgentProvider struct {
	// Organization is the name of the organization providing the agent.
	Organization string `json:"organization"`
	// URL associated with the agent provider.
	URL *string `json:"url,omitempty"`
}

// AgentSkill defines a specific skill or capability offered by an agent.
type AgentSkill struct {
	// ID is the unique identifier for the skill.
	ID string `json:"id"`
	// Name is the human-readable name of the skill.
	Name string `json:"name"`
	// Description is an optional description of the skill.
	Description *string `json:"description,omitempty"`
	// InputModes is an optional list of input modes supported by this skill.
	InputModes []string `json:"inputModes,omitempty"`
	// OutputModes is an optional list of output modes supported by this skill.
	OutputModes []string `json:"outputModes,omitempty"`
}

// AgentCard is the discovery document served at /.well-known/agent-card.
type AgentCard struct {
	// Name is the name of the agent.
	Name string `json:"name"`
	// Description is an optional description of the agent.
	Description *string `json:"description,omitempty"`
	// URL is the base URL endpoint for interacting with the agent.
	URL string `json:"url"`
	// Provider is information about the provider of the agent.
	Provider *AgentProvider `json:"provider,omitempty"`
	// Version is the version identifier for the agent or its API.
	Version string `json:"version"`
	// Capabilities are the capabilities supported by the agent.
	Capabilities AgentCapabilities `json:"capabilities"`
	// Skills is the list of specific skills offered by the agent.
	Skills []AgentSkill `json:"skills"`
}

func ptr[T any](v T) *T { return &v }

/*
NewAgentCardFromConfig hydrates a card from the viper configuration tree
under agent.<key>.
*/
func NewAgentCardFromConfig(key string) *AgentCard {
	v := viper.GetViper()
	skillArray := v.GetStringSlice(fmt.Sprintf("agent.%s.skills", key))

	skills := make([]AgentSkill, len(skillArray))

	for i, skill := range skillArray {
		skills[i] = NewSkillFromConfig(skill)
	}

	return &AgentCard{
		Name:        v.GetString(fmt.Sprintf("agent.%s.name", key)),
		Description: ptr(v.GetString(fmt.Sprintf("agent.%s.description", key))),
		Version:     v.GetString(fmt.Sprintf("agent.%s.version", key)),
		URL:         v.GetString(fmt.Sprintf("agent.%s.url", key)),
		Provider: &AgentProvider{
			Organization: v.GetString(fmt.Sprintf("agent.%s.provider.organization", key)),
			URL:          ptr(v.GetString(fmt.Sprintf("agent.%s.provider.url", key))),
		},
		Capabilities: AgentCapabilities{
			Streaming:         v.GetBool(fmt.Sprintf("agent.%s.capabilities.streaming", key)),
			PushNotifications: v.GetBool(fmt.Sprintf("agent.%s.capabilities.pushNotifications", key)),
		},
		Skills: skills,
	}
}

func NewSkillFromConfig(skill string) AgentSkill {
	v := viper.GetViper()

	return AgentSkill{
		ID:          v.GetString(fmt.Sprintf("skills.%s.id", skill)),
		Name:        v.GetString(fmt.Sprintf("skills.%s.name", skill)),
		Description: ptr(v.GetString(fmt.Sprintf("skills.%s.description", skill))),
		InputModes:  v.GetStringSlice(fmt.Sprintf("skills.%s.input_modes", skill)),
		OutputModes: v.GetStringSlice(fmt.Sprintf("skills.%s.output_modes", skill)),
	}
}

func (card *AgentCard) String() string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("212")).
		Bold(true)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("252"))

	sectionStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		Bold(true)

	indent := "   "
	bullet := "│ "

	sb.WriteString(headerStyle.Render("Agent Card") + "\n")
	sb.WriteString(bullet + labelStyle.Render("Name: ") + valueStyle.Render(card.Name) + "\n")
	if card.Description != nil {
		sb.WriteString(bullet + labelStyle.Render("Description: ") + valueStyle.Render(*card.Description) + "\n")
	}
	sb.WriteString(bullet + labelStyle.Render("URL: ") + valueStyle.Render(card.URL) + "\n")
	sb.WriteString(bullet + labelStyle.Render("Version: ") + valueStyle.Render(card.Version) + "\n")

	sb.WriteString("\n" + sectionStyle.Render("Capabilities") + "\n")
	sb.WriteString(bullet + labelStyle.Render("Streaming: ") + valueStyle.Render(fmt.Sprintf("%v", card.Capabilities.Streaming)) + "\n")
	sb.WriteString(bullet + labelStyle.Render("Push Notifications: ") + valueStyle.Render(fmt.Sprintf("%v", card.Capabilities.PushNotifications)) + "\n")

	if len(card.Skills) > 0 {
		sb.WriteString("\n" + sectionStyle.Render("Skills") + "\n")
		for i, skill := range card.Skills {
			sb.WriteString(bullet + labelStyle.Render(fmt.Sprintf("Skill %d", i+1)) + "\n")
			sb.WriteString(bullet + indent + labelStyle.Render("ID: ") + valueStyle.Render(skill.ID) + "\n")
			sb.WriteString(bullet + indent + labelStyle.Render("Name: ") + valueStyle.Render(skill.Name) + "\n")
			if len(skill.InputModes) > 0 {
				sb.WriteString(bullet + indent + labelStyle.Render("Input Modes: ") + valueStyle.Render(strings.Join(skill.InputModes, ", ")) + "\n")
			}
			if len(skill.OutputModes) > 0 {
				sb.WriteString(bullet + indent + labelStyle.Render("Output Modes: ") + valueStyle.Render(strings.Join(skill.OutputModes, ", ")) + "\n")
			}
		}
	}

	return sb.String()
}
