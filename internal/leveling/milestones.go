package leveling

import (
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/joyedlion/steward/resources"
)

// Milestones maps levels to honorary titles announced on level-up.
type Milestones struct {
	titles map[int64]string
}

type milestonesFile struct {
	Milestones map[int64]string `yaml:"milestones"`
}

func LoadMilestones() (*Milestones, error) {
	raw, err := resources.FS.ReadFile("levels.yml")
	if err != nil {
		return nil, fmt.Errorf("read levels resource: %w", err)
	}
	var parsed milestonesFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse levels resource: %w", err)
	}
	return &Milestones{titles: parsed.Milestones}, nil
}

// TitleFor returns the title for an exact milestone level, if any.
func (m *Milestones) TitleFor(level int64) (string, bool) {
	title, ok := m.titles[level]
	return title, ok
}

// Current returns the highest milestone title at or below the level.
func (m *Milestones) Current(level int64) (string, bool) {
	var bestLevel int64 = -1
	var bestTitle string
	for l, title := range m.titles {
		if l <= level && l > bestLevel {
			bestLevel = l
			bestTitle = title
		}
	}
	return bestTitle, bestLevel >= 0
}
