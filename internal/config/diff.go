package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TurnChanged, KeywordChanged and ScriptChanged cover the sections that
	// take effect at the next interview.
	TurnChanged    bool
	KeywordChanged bool
	ScriptChanged  bool

	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

// Changed reports whether any section differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TurnChanged || d.KeywordChanged || d.ScriptChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.TurnChanged = !reflect.DeepEqual(old.Turn, new.Turn) ||
		old.Robot.SoundSensitivity != new.Robot.SoundSensitivity
	d.KeywordChanged = old.Keyword != new.Keyword ||
		old.Robot.Language != new.Robot.Language
	d.ScriptChanged = !reflect.DeepEqual(old.Script, new.Script)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	oldRobot, newRobot := old.Robot, new.Robot
	oldRobot.SoundSensitivity, newRobot.SoundSensitivity = 0, 0
	oldRobot.Language, newRobot.Language = "", ""
	if oldRobot != newRobot {
		d.RestartRequired = append(d.RestartRequired, "robot")
	}
	if old.Outcomes != new.Outcomes {
		d.RestartRequired = append(d.RestartRequired, "outcomes")
	}
	if old.Runner != new.Runner {
		d.RestartRequired = append(d.RestartRequired, "runner")
	}
	slices.Sort(d.RestartRequired)

	return d
}
