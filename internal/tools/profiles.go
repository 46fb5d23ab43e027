package tools

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadProfiles loads profile definitions from a YAML file
func LoadProfiles(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	profiles := make(map[string][]string)
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles YAML: %w", err)
	}

	if len(profiles) == 0 {
		return nil, fmt.Errorf("profiles file %s defines no profiles", path)
	}
	for name, tools := range profiles {
		if name == "all" {
			return nil, fmt.Errorf("profile name %q is reserved", name)
		}
		if len(tools) == 0 {
			return nil, fmt.Errorf("profile %q lists no tools", name)
		}
	}

	return profiles, nil
}

// init loads profiles from YAML and populates ProfileDefinitions
func init() {
	profilePath := findProfilesFile()
	if profilePath == "" {
		return
	}

	profiles, err := LoadProfiles(profilePath)
	if err != nil {
		slog.Warn("Failed to load profiles, using built-in definitions", "path", profilePath, "error", err)
		return
	}

	ProfileDefinitions = profiles
}

// findProfilesFile searches for the profiles.yaml file in common locations
func findProfilesFile() string {
	locations := []string{
		// PROFILES_CONFIG_PATH wins over the conventional locations
		os.Getenv("PROFILES_CONFIG_PATH"),
		"configs/profiles.yaml",
		filepath.Join(getExecutableDir(), "configs", "profiles.yaml"),
	}

	for _, path := range locations {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// getExecutableDir returns the directory containing the executable
func getExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}
