package notify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChannelProfile is the YAML document describing a channel set.
type ChannelProfile struct {
	Name     string    `yaml:"name"`
	Channels []Channel `yaml:"channels"`
}

// LoadChannels reads a channel profile YAML file and returns its
// validated channel list. Unknown severity filters are rejected up
// front rather than silently dropping every notification at runtime.
func LoadChannels(path string) ([]Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load channel profile: %w", err)
	}

	var profile ChannelProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse channel profile %s: %w", path, err)
	}

	for i := range profile.Channels {
		ch := &profile.Channels[i]
		if ch.Name == "" {
			return nil, fmt.Errorf("channel %d in %s has no name", i, path)
		}
		if ch.URL == "" {
			return nil, fmt.Errorf("channel %q has no url", ch.Name)
		}
		switch ch.SeverityFilter {
		case "", SeverityInfo, SeverityWarn, SeverityAll:
		default:
			return nil, fmt.Errorf("channel %q: unknown severity_filter %q", ch.Name, ch.SeverityFilter)
		}
		if ch.MinConfidence < 0 || ch.MinConfidence > 1 {
			return nil, fmt.Errorf("channel %q: min_confidence %v out of range", ch.Name, ch.MinConfidence)
		}
	}
	return profile.Channels, nil
}
