package main

import (
	"fmt"
	"sort"
	"strings"
)

var nameReplacer = strings.NewReplacer(" ", "_", "-", "_", ".", "_")

// normalizeName folds case and separators so "Living Room" matches "living-room".
func normalizeName(name string) string {
	name = nameReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}

// resolveNamedID finds the option whose label matches input. An exact match
// wins; otherwise a unique prefix is accepted.
func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	labels := make([]string, 0, len(options))
	for label := range options {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var prefixed []string
	for _, label := range labels {
		normalized := normalizeName(label)
		if normalized == needle {
			return options[label], nil
		}
		if needle != "" && strings.HasPrefix(normalized, needle) {
			prefixed = append(prefixed, label)
		}
	}
	switch len(prefixed) {
	case 1:
		return options[prefixed[0]], nil
	case 0:
		return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(labels, ", "))
	default:
		return "", fmt.Errorf("%s %q is ambiguous: %s", kind, input, strings.Join(prefixed, ", "))
	}
}

// expandMethod turns "plugin/Method" into the full gRPC method name of the
// plugin's first service. Fully qualified names pass through.
func expandMethod(method string, services func(pluginID string) ([]string, error)) (string, error) {
	method = strings.TrimPrefix(method, "/")
	service, name, ok := strings.Cut(method, "/")
	if !ok {
		if idx := strings.LastIndex(method, "."); idx > 0 {
			service, name = method[:idx], method[idx+1:]
		} else {
			return "", fmt.Errorf("method %q must look like service/method", method)
		}
	}
	if strings.Contains(service, ".") {
		return service + "/" + name, nil
	}
	names, err := services(service)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("plugin %q exposes no services", service)
	}
	return names[0] + "/" + name, nil
}
