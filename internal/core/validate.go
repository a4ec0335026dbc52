package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins enforces basic plugin contract invariants at startup.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		manifest := plugin.Manifest()
		if id == "" {
			return fmt.Errorf("plugin id is empty")
		}
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// FilterPlugins keeps the compiled plugins that are enabled, or all of them.
func FilterPlugins(compiled []Plugin, enabled map[string]bool, all bool) []Plugin {
	if all {
		return compiled
	}
	active := make([]Plugin, 0, len(compiled))
	for _, plugin := range compiled {
		if enabled[plugin.ID()] {
			active = append(active, plugin)
		}
	}
	return active
}

// ValidateEnabledPlugins fails when configuration enables a plugin that was
// not compiled in.
func ValidateEnabledPlugins(compiled []Plugin, enabled map[string]bool, all bool) error {
	if all {
		return nil
	}
	known := make(map[string]bool, len(compiled))
	for _, plugin := range compiled {
		known[plugin.ID()] = true
	}
	var missing []string
	for id, on := range enabled {
		if on && !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("enabled plugins not compiled in: %s", strings.Join(missing, ", "))
}
