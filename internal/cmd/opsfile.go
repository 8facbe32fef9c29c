package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/planstore/internal/errors"
	"github.com/Iron-Ham/planstore/internal/planeditor/operations"
)

// readOperations loads a batch of operations from path, or from stdin when
// path is "-". The file holds either a bare array of operation envelopes or
// an object with an "operations" array, written as JSON or YAML.
func readOperations(path string, stdin io.Reader) ([]operations.Operation, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return parseOperations(data, isYAML(path))
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func parseOperations(data []byte, asYAML bool) ([]operations.Operation, error) {
	if asYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, errors.NewValidationError("operations file is not valid YAML").WithIssues(err.Error())
		}
		data = converted
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var wrapper struct {
			Operations json.RawMessage `json:"operations"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, errors.NewValidationError("operations file is not valid JSON").WithIssues(err.Error())
		}
		if len(wrapper.Operations) == 0 {
			return nil, errors.NewValidationError(`operations file has no "operations" array`)
		}
		data = wrapper.Operations
	}
	return operations.DecodeOperations(data)
}

// yamlToJSON re-encodes a YAML document as JSON so operations decode
// through one strict path.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
