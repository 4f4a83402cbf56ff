package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the presence and dedup timing constants. They are independent
// of each other: a duplicate that arrives after DedupTTL is processed as new.
type Tuning struct {
	IdleAfter    time.Duration `yaml:"idle_after"`
	OfflineAfter time.Duration `yaml:"offline_after"`
	RecordTTL    time.Duration `yaml:"record_ttl"`
	DedupTTL     time.Duration `yaml:"dedup_ttl"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

func DefaultTuning() Tuning {
	return Tuning{
		IdleAfter:    5 * time.Minute,
		OfflineAfter: 15 * time.Minute,
		RecordTTL:    20 * time.Minute,
		DedupTTL:     24 * time.Hour,
		TickInterval: 30 * time.Second,
	}
}

// LoadTuningFile reads a YAML tuning file. Keys left out keep their defaults.
func LoadTuningFile(path string) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read presence config %s: %w", path, err)
	}

	tuning := DefaultTuning()
	if err := yaml.Unmarshal(data, &tuning); err != nil {
		return Tuning{}, fmt.Errorf("parse presence config %s: %w", path, err)
	}
	if err := tuning.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("presence config %s: %w", path, err)
	}
	return tuning, nil
}

func (t Tuning) Validate() error {
	if t.IdleAfter <= 0 || t.OfflineAfter <= 0 || t.RecordTTL <= 0 || t.DedupTTL <= 0 || t.TickInterval <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	if t.OfflineAfter < t.IdleAfter {
		return fmt.Errorf("offline_after must not be shorter than idle_after")
	}
	return nil
}
