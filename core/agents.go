/*
Package core provides agent definition loading for the chat proxy.

Agents are read from a directory of JSON or YAML files, one agent per file.
The loaded set is published as an immutable snapshot through an atomic
pointer, so a reload never exposes a half-built set to concurrent turns.
*/
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Backend kinds accepted in the agent "type" field.
const (
	AgentTypeOpenAI = "openai"
	AgentTypeN8N    = "n8n"
	AgentTypeCustom = "custom"
)

// Defaults applied to LLM agents when the field is absent.
const (
	DefaultLLMModel        = "gpt-4.1-mini"
	DefaultInstructions    = "Eres un asistente virtual útil y amigable."
	DefaultMaxOutputTokens = 2000
	DefaultTemperature     = 0.3
	DefaultTopP            = 1.0
	DefaultResponsePath    = "response"
)

// AgentStyles configures the embeddable widget appearance.
type AgentStyles struct {
	PrimaryColor   string `json:"primary_color" yaml:"primary_color"`
	SecondaryColor string `json:"secondary_color" yaml:"secondary_color"`
	BorderRadius   string `json:"border_radius" yaml:"border_radius"`
	Position       string `json:"position" yaml:"position"`
	WidgetSize     string `json:"widget_size" yaml:"widget_size"`
	FontFamily     string `json:"font_family" yaml:"font_family"`
}

// AgentMessages holds the widget's fixed user-facing strings.
type AgentMessages struct {
	Welcome     string `json:"welcome" yaml:"welcome"`
	Placeholder string `json:"placeholder" yaml:"placeholder"`
	Error       string `json:"error" yaml:"error"`
}

// LLMConfig configures an agent backed by the Responses API.
type LLMConfig struct {
	APIKey          string           `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Overrides OPENAI_API_KEY when set
	Model           string           `json:"model" yaml:"model"`
	Instructions    string           `json:"instructions" yaml:"instructions"`
	MaxOutputTokens int              `json:"max_output_tokens" yaml:"max_output_tokens"`
	Temperature     *float64         `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP            *float64         `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	Tools           []map[string]any `json:"tools" yaml:"tools"`                                   // Tool schemas forwarded as declared
	VectorIndex     string           `json:"vector_index,omitempty" yaml:"vector_index,omitempty"` // Enables semantic_search when set
}

// WebhookConfig configures an agent backed by an n8n workflow webhook.
type WebhookConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// CustomConfig configures an agent backed by an arbitrary HTTP endpoint.
type CustomConfig struct {
	Headers       map[string]string `json:"headers" yaml:"headers"`
	BodyStructure map[string]any    `json:"body_structure" yaml:"body_structure"` // "{message}" and "{conversation_id}" values are substituted
	ResponsePath  string            `json:"response_path" yaml:"response_path"`   // Dotted path to the reply text
}

// Agent is one configured chatbot.
type Agent struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Type           string         `json:"type" yaml:"type"`
	Styles         AgentStyles    `json:"styles" yaml:"styles"`
	Messages       AgentMessages  `json:"messages" yaml:"messages"`
	Enabled        *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	AllowedDomains []string       `json:"allowed_domains" yaml:"allowed_domains"`
	ChatEndpoint   string         `json:"chat_endpoint,omitempty" yaml:"chat_endpoint,omitempty"`
	CustomConfig   *CustomConfig  `json:"custom_config,omitempty" yaml:"custom_config,omitempty"`
	OpenAIConfig   *LLMConfig     `json:"openai_config,omitempty" yaml:"openai_config,omitempty"`
	N8NConfig      *WebhookConfig `json:"n8n_config,omitempty" yaml:"n8n_config,omitempty"`
}

// PublicAgentConfig is the subset of an agent that is safe to expose to the widget.
type PublicAgentConfig struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Type           string        `json:"type"`
	Styles         AgentStyles   `json:"styles"`
	Messages       AgentMessages `json:"messages"`
	Enabled        bool          `json:"enabled"`
	AllowedDomains []string      `json:"allowed_domains"`
}

// IsEnabled reports whether the agent accepts chat traffic. Agents are enabled unless stated otherwise.
func (a *Agent) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// ToPublic strips backend configuration and credentials.
func (a *Agent) ToPublic() PublicAgentConfig {
	domains := a.AllowedDomains
	if domains == nil {
		domains = []string{}
	}
	return PublicAgentConfig{
		ID:             a.ID,
		Name:           a.Name,
		Type:           a.Type,
		Styles:         a.Styles,
		Messages:       a.Messages,
		Enabled:        a.IsEnabled(),
		AllowedDomains: domains,
	}
}

// Validate checks that the agent carries the config block its backend kind needs.
// It performs no I/O and is called before any network request is made.
func (a *Agent) Validate() error {
	switch a.Type {
	case AgentTypeOpenAI:
		if a.OpenAIConfig == nil {
			return newError(ConfigurationMissing, a.Type, errors.New("openai_config is required"))
		}
	case AgentTypeN8N:
		if a.N8NConfig == nil || a.N8NConfig.WebhookURL == "" {
			return newError(ConfigurationMissing, a.Type, errors.New("n8n_config.webhook_url is required"))
		}
	case AgentTypeCustom:
		if a.ChatEndpoint == "" || a.CustomConfig == nil {
			return newError(ConfigurationMissing, a.Type, errors.New("chat_endpoint and custom_config are required"))
		}
	default:
		return newError(ConfigurationMissing, a.Type, fmt.Errorf("unsupported agent type %q", a.Type))
	}
	return nil
}

// applyDefaults fills absent optional fields the way the widget and backends expect.
func (a *Agent) applyDefaults() {
	setDefault(&a.Styles.PrimaryColor, "#007bff")
	setDefault(&a.Styles.SecondaryColor, "#6c757d")
	setDefault(&a.Styles.BorderRadius, "12px")
	setDefault(&a.Styles.Position, "bottom-right")
	setDefault(&a.Styles.WidgetSize, "medium")
	setDefault(&a.Styles.FontFamily, "Arial, sans-serif")

	setDefault(&a.Messages.Welcome, "¡Hola! ¿En qué puedo ayudarte?")
	setDefault(&a.Messages.Placeholder, "Escribe tu mensaje...")
	setDefault(&a.Messages.Error, "Lo siento, ha ocurrido un error. Inténtalo de nuevo.")

	if cfg := a.OpenAIConfig; cfg != nil {
		setDefault(&cfg.Model, DefaultLLMModel)
		setDefault(&cfg.Instructions, DefaultInstructions)
		if cfg.MaxOutputTokens <= 0 {
			cfg.MaxOutputTokens = DefaultMaxOutputTokens
		}
		if cfg.Temperature == nil {
			t := DefaultTemperature
			cfg.Temperature = &t
		}
		if cfg.TopP == nil {
			p := DefaultTopP
			cfg.TopP = &p
		}
	}
	if cfg := a.CustomConfig; cfg != nil {
		setDefault(&cfg.ResponsePath, DefaultResponsePath)
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// AgentStore resolves agent definitions by id.
type AgentStore interface {
	Get(id string) (*Agent, bool)
	List() []*Agent
	Reload() (int, error)
}

type agentSnapshot struct {
	byID    map[string]*Agent
	ordered []*Agent
}

// FileAgentStore loads agents from *.json, *.yaml and *.yml files in a directory.
type FileAgentStore struct {
	dir      string
	snapshot atomic.Pointer[agentSnapshot]
	logger   *logrus.Entry
}

// NewFileAgentStore creates a store over dir and performs the initial load.
// A missing directory yields an empty store, not an error.
func NewFileAgentStore(dir string, logger *logrus.Logger) (*FileAgentStore, error) {
	store := &FileAgentStore{
		dir:    dir,
		logger: logger.WithField("component", "agents"),
	}
	store.snapshot.Store(&agentSnapshot{byID: map[string]*Agent{}})
	if _, err := store.Reload(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileAgentStore) Get(id string) (*Agent, bool) {
	agent, ok := s.snapshot.Load().byID[id]
	return agent, ok
}

// List returns the loaded agents sorted by id.
func (s *FileAgentStore) List() []*Agent {
	ordered := s.snapshot.Load().ordered
	out := make([]*Agent, len(ordered))
	copy(out, ordered)
	return out
}

// Reload re-reads the directory and atomically replaces the loaded set.
// Files that fail to parse are logged and skipped. It returns the number of agents loaded.
func (s *FileAgentStore) Reload() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.WithField("dir", s.dir).Warn("Agents directory does not exist, no agents loaded")
			s.snapshot.Store(&agentSnapshot{byID: map[string]*Agent{}})
			return 0, nil
		}
		return 0, fmt.Errorf("read agents directory %s: %w", s.dir, err)
	}

	next := &agentSnapshot{byID: make(map[string]*Agent)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		agent, err := loadAgentFile(path)
		if err != nil {
			s.logger.WithError(err).WithField("file", path).Error("Failed to load agent definition")
			continue
		}
		if err := agent.Validate(); err != nil {
			s.logger.WithError(err).WithField("agentId", agent.ID).Warn("Agent is missing backend configuration")
		}
		if _, dup := next.byID[agent.ID]; dup {
			s.logger.WithFields(logrus.Fields{"agentId": agent.ID, "file": path}).Warn("Duplicate agent id, later file wins")
		}
		next.byID[agent.ID] = agent
		s.logger.WithFields(logrus.Fields{
			"agentId": agent.ID,
			"name":    agent.Name,
			"type":    agent.Type,
		}).Info("Agent loaded")
	}

	next.ordered = make([]*Agent, 0, len(next.byID))
	for _, agent := range next.byID {
		next.ordered = append(next.ordered, agent)
	}
	sort.Slice(next.ordered, func(i, j int) bool { return next.ordered[i].ID < next.ordered[j].ID })

	s.snapshot.Store(next)
	return len(next.ordered), nil
}

func loadAgentFile(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var agent Agent
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &agent)
	default:
		err = yaml.Unmarshal(data, &agent)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	if agent.ID == "" {
		return nil, errors.New("agent id is required")
	}
	switch agent.Type {
	case AgentTypeOpenAI, AgentTypeN8N, AgentTypeCustom:
	default:
		return nil, fmt.Errorf("agent %s: unsupported type %q", agent.ID, agent.Type)
	}

	agent.applyDefaults()
	return &agent, nil
}
