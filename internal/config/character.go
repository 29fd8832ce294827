package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Character is the persona card substituted into system prompts.
type Character struct {
	Name  string   `yaml:"name"`
	Alias []string `yaml:"alias"`
	Info  string   `yaml:"info"`
}

// LoadCharacter reads a character card. A missing or broken card is an error;
// callers decide whether to fall back to a bare default.
func LoadCharacter(path string) (Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Character{}, fmt.Errorf("read character card: %w", err)
	}
	var c Character
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Character{}, fmt.Errorf("parse character card: %w", err)
	}
	if c.Name == "" {
		return Character{}, fmt.Errorf("character card %s has no name", path)
	}
	return c, nil
}
