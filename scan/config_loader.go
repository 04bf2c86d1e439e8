package scan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the service configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses and validates YAML configuration bytes
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Solver.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for i, rc := range config.Robots {
		if rc.ID == "" {
			return nil, fmt.Errorf("robots[%d].id is required", i)
		}
		if seen[rc.ID] {
			return nil, fmt.Errorf("robots[%d].id %q is duplicated", i, rc.ID)
		}
		seen[rc.ID] = true
	}

	return &config, nil
}

// ValidateForService checks the fields that the MQTT service needs
func (c *Config) ValidateForService() error {
	if c.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if len(c.Robots) == 0 {
		return fmt.Errorf("at least one robot must be defined")
	}
	for i, rc := range c.Robots {
		if rc.Topic == "" {
			return fmt.Errorf("robots[%d].topic is required for %s", i, rc.ID)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
