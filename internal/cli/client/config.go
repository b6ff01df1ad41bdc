package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	envAPIKey = "COACH_API_KEY"
	envAPIURL = "COACH_API_URL"

	defaultAPIURL = "http://localhost:8080"
)

// GlobalConfig represents the stored client credentials in config.json
type GlobalConfig struct {
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
}

var (
	getConfigDirFunc  = defaultGetConfigDir
	getConfigPathFunc = defaultGetConfigPath
)

func defaultGetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "interviewcoach"), nil
}

func defaultGetConfigPath() (string, error) {
	configDir, err := getConfigDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// GetConfigDir returns the platform-specific configuration directory
func GetConfigDir() (string, error) {
	return getConfigDirFunc()
}

// GetConfigPath returns the full path to the config.json file
func GetConfigPath() (string, error) {
	return getConfigPathFunc()
}

// LoadGlobalConfig reads and parses the global config.json file.
// Returns nil config (not error) if file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config GlobalConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveGlobalConfig writes the config to config.json with 0600 permissions
func SaveGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DeleteGlobalConfig removes the config.json file
func DeleteGlobalConfig() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}
	return nil
}

// CredentialSource represents where credentials came from
type CredentialSource string

const (
	SourceFlag         CredentialSource = "flag"
	SourceEnv          CredentialSource = "env"
	SourceGlobalConfig CredentialSource = "global_config"
	SourceNone         CredentialSource = "none"
)

// ResolveCredentials applies the cascade flag -> env -> global config ->
// default URL. The server may run without a key, so an empty key is allowed.
func ResolveCredentials(flagAPIKey, flagAPIURL string) (CredentialSource, string, string, error) {
	source := SourceNone
	apiKey, apiURL := flagAPIKey, flagAPIURL
	if apiKey != "" {
		source = SourceFlag
	}

	if apiKey == "" {
		if apiKey = os.Getenv(envAPIKey); apiKey != "" {
			source = SourceEnv
		}
	}
	if apiURL == "" {
		apiURL = os.Getenv(envAPIURL)
	}

	if apiKey == "" || apiURL == "" {
		global, err := LoadGlobalConfig()
		if err != nil {
			return SourceNone, "", "", err
		}
		if global != nil {
			if apiKey == "" && global.APIKey != "" {
				apiKey = global.APIKey
				source = SourceGlobalConfig
			}
			if apiURL == "" {
				apiURL = global.APIURL
			}
		}
	}

	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return source, apiKey, apiURL, nil
}
