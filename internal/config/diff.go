package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; storage and
// telemetry changes need a restart and are reported as RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ScoringChanged  bool // confidence_floor or feedback_weight
	MaxRulesChanged bool
	PhoneticChanged bool // vocabulary or thresholds

	RestartRequired bool
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ScoringChanged || d.MaxRulesChanged || d.PhoneticChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	oe, ne := old.Engine, new.Engine
	if oe.Floor() != ne.Floor() || oe.Weight() != ne.Weight() {
		d.ScoringChanged = true
	}
	if oe.MaxRules != ne.MaxRules {
		d.MaxRulesChanged = true
	}
	if diffPhonetic(oe.Phonetic, ne.Phonetic) {
		d.PhoneticChanged = true
	}

	if old.Storage != new.Storage || old.Telemetry != new.Telemetry ||
		oe.CustomPriority != ne.CustomPriority || oe.Platform != ne.Platform ||
		oe.BatchConcurrency != ne.BatchConcurrency ||
		!slices.Equal(oe.DisabledBuiltins, ne.DisabledBuiltins) {
		d.RestartRequired = true
	}

	return d
}

// diffPhonetic compares two phonetic configs. A changed vocabulary file path
// counts; changed file contents do not.
func diffPhonetic(old, new PhoneticConfig) bool {
	return !slices.Equal(old.Vocabulary, new.Vocabulary) ||
		old.VocabularyFile != new.VocabularyFile ||
		old.PhoneticThreshold != new.PhoneticThreshold ||
		old.FuzzyThreshold != new.FuzzyThreshold ||
		old.MinWordLength != new.MinWordLength
}
