package config

// BackendDiff classifies changed backend fields for the supervisor: hot
// fields can be applied through the backend's reload endpoint, restart
// fields always require a full process restart.
type BackendDiff struct {
	Hot     []string
	Restart []string
}

// Empty reports whether nothing changed.
func (d BackendDiff) Empty() bool {
	return len(d.Hot) == 0 && len(d.Restart) == 0
}

// NeedsRestart reports whether any changed field cannot be hot-reloaded.
func (d BackendDiff) NeedsRestart() bool {
	return len(d.Restart) > 0
}

// DiffBackend compares two backend settings snapshots field by field.
// ScriptPath counts as restart-required: a new entry script is a new process.
func DiffBackend(old, new BackendSettings) BackendDiff {
	var d BackendDiff
	if old.Model != new.Model {
		d.Hot = append(d.Hot, "model")
	}
	if old.Language != new.Language {
		d.Hot = append(d.Hot, "language")
	}
	if old.Task != new.Task {
		d.Hot = append(d.Hot, "task")
	}
	if old.Temperature != new.Temperature {
		d.Hot = append(d.Hot, "temperature")
	}
	if old.Host != new.Host {
		d.Restart = append(d.Restart, "host")
	}
	if old.Port != new.Port {
		d.Restart = append(d.Restart, "port")
	}
	if old.ScriptPath != new.ScriptPath {
		d.Restart = append(d.Restart, "script_path")
	}
	return d
}
