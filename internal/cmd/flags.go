package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Iron-Ham/planstore/internal/plan"
)

// The helpers below turn flags into the optional fields of update
// operations: a flag that was not given stays nil and leaves the field
// unchanged.

func changedString(fs *pflag.FlagSet, name string) *string {
	if !fs.Changed(name) {
		return nil
	}
	v, _ := fs.GetString(name)
	return &v
}

func changedInt(fs *pflag.FlagSet, name string) *int {
	if !fs.Changed(name) {
		return nil
	}
	v, _ := fs.GetInt(name)
	return &v
}

func changedStrings(fs *pflag.FlagSet, name string) *[]string {
	if !fs.Changed(name) {
		return nil
	}
	v, _ := fs.GetStringSlice(name)
	if v == nil {
		v = []string{}
	}
	return &v
}

// parseActions parses "type:target" pairs, e.g. "modify:src/api.go".
func parseActions(specs []string) ([]plan.Action, error) {
	actions := make([]plan.Action, 0, len(specs))
	for _, spec := range specs {
		kind, target, ok := strings.Cut(spec, ":")
		if !ok || kind == "" || target == "" {
			return nil, fmt.Errorf("invalid action %q: want type:target", spec)
		}
		actions = append(actions, plan.Action{Type: kind, Target: target})
	}
	return actions, nil
}

// parseLabels parses "key=value" pairs.
func parseLabels(specs []string) (map[string]string, error) {
	labels := make(map[string]string, len(specs))
	for _, spec := range specs {
		k, v, ok := strings.Cut(spec, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid label %q: want key=value", spec)
		}
		labels[k] = v
	}
	return labels, nil
}
