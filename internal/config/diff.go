package config

// ConfigDiff describes what changed between two configs. The watcher logs it
// and the application uses it to decide which entities to rebuild.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Added, Removed and Changed hold entry IDs. A changed entry means any
	// of its settings changed, including post-setup options.
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the diff carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldEntries := make(map[string]*Entry, len(old.Entries))
	for i := range old.Entries {
		oldEntries[old.Entries[i].ID] = &old.Entries[i]
	}
	newEntries := make(map[string]*Entry, len(new.Entries))
	for i := range new.Entries {
		newEntries[new.Entries[i].ID] = &new.Entries[i]
	}

	for id, oldEntry := range oldEntries {
		newEntry, exists := newEntries[id]
		if !exists {
			d.Removed = append(d.Removed, id)
			continue
		}
		if !entriesEqual(oldEntry, newEntry) {
			d.Changed = append(d.Changed, id)
		}
	}
	for id := range newEntries {
		if _, exists := oldEntries[id]; !exists {
			d.Added = append(d.Added, id)
		}
	}

	return d
}

// entriesEqual compares two entries with the same ID field by field.
func entriesEqual(a, b *Entry) bool {
	if a.Name != b.Name || a.Engine != b.Engine || a.Setup != b.Setup {
		return false
	}
	return optionsEqual(a.Options, b.Options)
}

func optionsEqual(a, b EntryOptions) bool {
	return ptrEqual(a.Model, b.Model) &&
		ptrEqual(a.Voice, b.Voice) &&
		ptrEqual(a.Speed, b.Speed) &&
		ptrEqual(a.Instructions, b.Instructions) &&
		ptrEqual(a.Chime, b.Chime) &&
		ptrEqual(a.ChimeSound, b.ChimeSound) &&
		ptrEqual(a.Normalize, b.Normalize) &&
		ptrEqual(a.ChunkSize, b.ChunkSize) &&
		ptrEqual(a.AllowBlending, b.AllowBlending)
}

// ptrEqual treats two pointers as equal when both are nil or both point at
// equal values.
func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
