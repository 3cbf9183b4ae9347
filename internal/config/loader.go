package config

import (
	"fmt"
	"os"
	"path/filepath"

	"governor/pkg/logging"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/governor"
	projectConfigDir = ".governor"
	configFileName   = "config.yaml"
)

// LoadConfig layers default, user, project and explicit file parameters, then
// applies overrides. explicitPath may be empty.
func LoadConfig(explicitPath string, overrides map[string]string) (Parameters, error) {
	// 1. Start with the default parameters
	merged := GetDefaultParameters().Map()

	// 2. User-specific configuration
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if err := mergeFileIfExists(merged, userConfigPath); err != nil {
		return Parameters{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
	}

	// 3. Project-specific configuration
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else if err := mergeFileIfExists(merged, projectConfigPath); err != nil {
		return Parameters{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
	}

	// 4. Explicit file must exist when given
	if explicitPath != "" {
		values, err := loadParametersFromFile(explicitPath)
		if err != nil {
			return Parameters{}, fmt.Errorf("error loading config from %s: %w", explicitPath, err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}

	// 5. Command line overrides
	return NewParameters(merged).With(overrides), nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

func mergeFileIfExists(into map[string]string, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	values, err := loadParametersFromFile(path)
	if err != nil {
		return err
	}
	logging.Debug("Config", "Merged %d parameter(s) from %s", len(values), path)
	for k, v := range values {
		into[k] = v
	}
	return nil
}

// loadParametersFromFile reads a configuration file and flattens its parameters.
func loadParametersFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	flatten("", file.Parameters, out)
	return out, nil
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
