package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"sgc/internal/access"
	"sgc/internal/domain"
)

// Config models sgc.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	ManagingUnit string `yaml:"managing_unit"`
	Policies     struct {
		Actions map[string]ActionPolicy `yaml:"actions"`
	} `yaml:"policies"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig points event deliveries at an external system, typically the
// SGRH integration bus or a mail gateway.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// ActionPolicy is the declarative access rule for one workflow action.
type ActionPolicy struct {
	Profiles   []string `yaml:"profiles"`
	Situations []string `yaml:"situations"`
	Hierarchy  string   `yaml:"hierarchy"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sgc config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "competency-mapping" {
		return fmt.Errorf("config.project.kind must be 'competency-mapping'")
	}
	if c.ManagingUnit == "" {
		return fmt.Errorf("config.managing_unit is required")
	}
	if c.Policies.Actions == nil {
		return fmt.Errorf("config.policies.actions is required")
	}
	for action, policy := range c.Policies.Actions {
		if action == "" {
			return fmt.Errorf("config.policies.actions contains empty action id")
		}
		if len(policy.Profiles) == 0 {
			return fmt.Errorf("action %s lists no allowed profiles", action)
		}
		for _, p := range policy.Profiles {
			switch domain.Profile(p) {
			case domain.ProfileAdmin, domain.ProfileGestor, domain.ProfileChefe, domain.ProfileServidor:
			default:
				return fmt.Errorf("action %s references unknown profile %s", action, p)
			}
		}
		if policy.Hierarchy != "" {
			if _, err := access.ParseRequirement(policy.Hierarchy); err != nil {
				return fmt.Errorf("action %s: %w", action, err)
			}
		}
	}
	return nil
}

// Rules converts the configured action policies into the evaluator's table.
func (c *Config) Rules() (map[domain.Action]access.Rule, error) {
	rules := make(map[domain.Action]access.Rule, len(c.Policies.Actions))
	for action, policy := range c.Policies.Actions {
		rule := access.Rule{Hierarchy: access.ReqNone}
		if policy.Hierarchy != "" {
			req, err := access.ParseRequirement(policy.Hierarchy)
			if err != nil {
				return nil, fmt.Errorf("action %s: %w", action, err)
			}
			rule.Hierarchy = req
		}
		for _, p := range policy.Profiles {
			rule.Profiles = append(rule.Profiles, domain.Profile(p))
		}
		for _, s := range policy.Situations {
			rule.Situations = append(rule.Situations, domain.Situation(s))
		}
		rules[domain.Action(action)] = rule
	}
	return rules, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sgc.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "competency-mapping"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: competency-mapping

managing_unit: SEDOC

policies:
  actions:
    iniciar_cadastro:
      profiles: [CHEFE, SERVIDOR]
      hierarchy: same_unit
      situations: [NAO_INICIADO]

    disponibilizar_cadastro:
      profiles: [CHEFE]
      hierarchy: same_unit
      situations: [MAPEAMENTO_CADASTRO_EM_ANDAMENTO]

    homologar_cadastro:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [MAPEAMENTO_CADASTRO_DISPONIBILIZADO]

    reabrir_cadastro:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [MAPEAMENTO_CADASTRO_DISPONIBILIZADO, MAPEAMENTO_CADASTRO_HOMOLOGADO]

    criar_mapa:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [MAPEAMENTO_CADASTRO_HOMOLOGADO]

    disponibilizar_mapa:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [MAPEAMENTO_MAPA_CRIADO, REVISAO_MAPA_AJUSTADO]

    apresentar_sugestoes:
      profiles: [CHEFE]
      hierarchy: same_unit
      situations: [MAPEAMENTO_MAPA_DISPONIBILIZADO, MAPEAMENTO_MAPA_VALIDADO, REVISAO_MAPA_DISPONIBILIZADO, REVISAO_MAPA_VALIDADO]

    validar_mapa:
      profiles: [CHEFE]
      hierarchy: same_unit
      situations: [MAPEAMENTO_MAPA_DISPONIBILIZADO, MAPEAMENTO_MAPA_COM_SUGESTOES, REVISAO_MAPA_DISPONIBILIZADO, REVISAO_MAPA_COM_SUGESTOES]

    homologar_mapa:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [MAPEAMENTO_MAPA_VALIDADO, MAPEAMENTO_MAPA_COM_SUGESTOES, REVISAO_MAPA_VALIDADO, REVISAO_MAPA_COM_SUGESTOES]

    iniciar_revisao:
      profiles: [CHEFE]
      hierarchy: same_unit
      situations: [NAO_INICIADO]

    disponibilizar_revisao:
      profiles: [CHEFE]
      hierarchy: same_unit
      situations: [REVISAO_CADASTRO_EM_ANDAMENTO]

    homologar_revisao:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [REVISAO_CADASTRO_DISPONIBILIZADA]

    reabrir_revisao:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [REVISAO_CADASTRO_DISPONIBILIZADA, REVISAO_CADASTRO_HOMOLOGADA]

    ajustar_mapa:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [REVISAO_CADASTRO_HOMOLOGADA]

    iniciar_autoavaliacao:
      profiles: [CHEFE, SERVIDOR]
      hierarchy: same_unit
      situations: [NAO_INICIADO]

    iniciar_monitoramento:
      profiles: [CHEFE]
      hierarchy: unit_holder
      situations: [DIAGNOSTICO_AUTOAVALIACAO_EM_ANDAMENTO]

    concluir_diagnostico:
      profiles: [ADMIN, GESTOR]
      hierarchy: same_or_subordinate
      situations: [DIAGNOSTICO_MONITORAMENTO]
`
