package training

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile holds default hyperparameters for one model type. A run's own
// config overrides profile defaults key by key.
type Profile struct {
	Name      string                 `yaml:"name" json:"name"`
	ModelType string                 `yaml:"model_type" json:"model_type"` // supervised, preference
	Defaults  map[string]interface{} `yaml:"defaults" json:"defaults"`
}

type ProfilesConfig struct {
	Profiles []Profile `yaml:"profiles" json:"profiles"`
}

// LoadProfiles reads training profiles from a YAML file, falling back to the
// built-in defaults when no path is configured.
func LoadProfiles(path string) (ProfilesConfig, error) {
	if path == "" {
		return DefaultProfiles(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultProfiles(), err
	}

	var cfg ProfilesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return ProfilesConfig{}, err
	}

	if len(cfg.Profiles) == 0 {
		return ProfilesConfig{}, errors.New("no training profiles configured")
	}

	return cfg, nil
}

func DefaultProfiles() ProfilesConfig {
	return ProfilesConfig{Profiles: []Profile{
		{
			Name:      "supervised-default",
			ModelType: "supervised",
			Defaults: map[string]interface{}{
				"epochs":        3,
				"learning_rate": 1e-4,
				"batch_size":    4,
				"lora_rank":     16,
			},
		},
		{
			Name:      "preference-default",
			ModelType: "preference",
			Defaults: map[string]interface{}{
				"epochs":        1,
				"learning_rate": 5e-5,
				"batch_size":    2,
				"dpo_beta":      0.1,
			},
		},
	}}
}

// ForModelType returns the first profile matching the model type.
func (c ProfilesConfig) ForModelType(modelType string) (Profile, bool) {
	for _, profile := range c.Profiles {
		if profile.ModelType == modelType {
			return profile, true
		}
	}
	return Profile{}, false
}
