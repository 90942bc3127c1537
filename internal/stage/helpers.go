package stage

import (
	"fmt"
	"os"
	"strings"

	"labelloop/internal/services"
)

// RequireFile checks that an input file produced by an earlier stage exists.
// The returned error names the stage that creates it so the operator knows
// what to run.
func RequireFile(stageName, what, path, producedBy string) error {
	if strings.TrimSpace(path) == "" {
		return services.Wrap(services.ErrConfiguration, stageName, "inputs", what+" path is not configured", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		hint := fmt.Sprintf("%s %s not found", what, path)
		if producedBy != "" {
			hint += "; run the " + producedBy + " stage first"
		}
		return services.Wrap(services.ErrNotFound, stageName, "inputs", hint, err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, stageName, "inputs", fmt.Sprintf("%s %s is a directory", what, path), nil)
	}
	return nil
}

// RequireDir is RequireFile for directories.
func RequireDir(stageName, what, path, producedBy string) error {
	if strings.TrimSpace(path) == "" {
		return services.Wrap(services.ErrConfiguration, stageName, "inputs", what+" path is not configured", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		hint := fmt.Sprintf("%s %s not found", what, path)
		if producedBy != "" {
			hint += "; run the " + producedBy + " stage first"
		}
		return services.Wrap(services.ErrNotFound, stageName, "inputs", hint, err)
	}
	if !info.IsDir() {
		return services.Wrap(services.ErrValidation, stageName, "inputs", fmt.Sprintf("%s %s is not a directory", what, path), nil)
	}
	return nil
}

// ParseStages validates a comma separated stage list and returns it in
// execution order. An empty list selects every stage.
func ParseStages(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]string(nil), Order...), nil
	}
	selected := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if !known(name) {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "stages", fmt.Sprintf("unknown stage %q (expected one of %s)", name, strings.Join(Order, ", ")), nil)
		}
		selected[name] = true
	}
	if len(selected) == 0 {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "stages", "no stages selected", nil)
	}
	ordered := make([]string, 0, len(selected))
	for _, name := range Order {
		if selected[name] {
			ordered = append(ordered, name)
		}
	}
	return ordered, nil
}

func known(name string) bool {
	for _, candidate := range Order {
		if candidate == name {
			return true
		}
	}
	return false
}
