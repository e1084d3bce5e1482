// Package utils provides file and timing helpers used by the items API
// commands.
package utils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/fjacquet/items_api/internal/models"
)

// FileExists checks if the given file exists.
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

// ReadFile reads the configuration from the specified YAML file.
// It returns an error if the file cannot be opened or parsed.
// Defaults and validation are left to Config.Validate.
func ReadFile(cfg *models.Config, filepath string) error {
	f, err := os.Open(filepath)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", filepath, err)
	}
	defer func() { _ = f.Close() }()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", filepath, err)
	}

	return nil
}
