package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Channel describes one team channel that reports are collected in.
type Channel struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	TeamLabel string `yaml:"subteam" json:"subteam"`
}

// Channels is the static channel descriptor file. JSON files parse too,
// since JSON is valid YAML.
type Channels struct {
	Channels      []Channel `yaml:"channels" json:"channels"`
	MasterChannel string    `yaml:"masterReportChannel" json:"masterReportChannel"`
}

// LoadChannels reads and validates the descriptor file at path.
func LoadChannels(path string) (*Channels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channel config: %w", err)
	}
	return ParseChannels(data)
}

// ParseChannels decodes and validates a descriptor document.
func ParseChannels(data []byte) (*Channels, error) {
	var chs Channels
	if err := yaml.Unmarshal(data, &chs); err != nil {
		return nil, fmt.Errorf("parse channel config: %w", err)
	}
	if err := chs.Validate(); err != nil {
		return nil, err
	}
	return &chs, nil
}

// Validate checks the descriptor and fills defaults.
func (c *Channels) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("channel config: no channels configured")
	}
	if strings.TrimSpace(c.MasterChannel) == "" {
		return errors.New("channel config: masterReportChannel is required")
	}

	seen := make(map[string]struct{}, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		ch.ID = strings.TrimSpace(ch.ID)
		if ch.ID == "" {
			return fmt.Errorf("channel config: channel %d has no id", i)
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("channel config: duplicate channel id %s", ch.ID)
		}
		seen[ch.ID] = struct{}{}
		if ch.Name == "" {
			ch.Name = ch.ID
		}
		if ch.TeamLabel == "" {
			ch.TeamLabel = ch.Name
		}
	}
	return nil
}

// Lookup returns the descriptor for a channel ID.
func (c *Channels) Lookup(id string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}
