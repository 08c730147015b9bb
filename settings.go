package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"quotebook/underline"
)

const (
	configDir    = "config"
	settingsFile = "settings.json"
)

var (
	settings      = underline.DefaultConfig()
	settingsMutex sync.RWMutex
)

// currentSettings returns a copy of the detection settings.
func currentSettings() underline.Config {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settings
}

// updateSettings replaces the detection settings and persists them.
func updateSettings(cfg underline.Config) error {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settings = cfg
	return saveSettingsLocked()
}

// saveSettingsLocked performs the actual saving without locking the mutex.
// This is to be called from functions that already hold the lock.
func saveSettingsLocked() error {
	// Ensure the config directory exists
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	// Marshal the settings struct to JSON
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	// Write the file
	return os.WriteFile(filepath.Join(configDir, settingsFile), data, 0644)
}

// loadSettings loads the settings from settings.json, creating it with defaults if it doesn't exist or is corrupt.
func loadSettings() {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settingsPath := filepath.Join(configDir, settingsFile)
	data, err := os.ReadFile(settingsPath)

	if err != nil {
		settings = underline.DefaultConfig()
		if os.IsNotExist(err) {
			// File doesn't exist, create it with defaults
			log.Infof("Settings file not found at %s, creating with default values.", settingsPath)
			if err := saveSettingsLocked(); err != nil {
				log.Fatalf("Failed to create default settings file: %v", err)
			}
		} else {
			// Another error occurred while reading
			log.Warnf("Failed to read settings file: %v. Loading default settings.", err)
		}
		return
	}

	// Fields missing from the file keep their defaults
	loaded := underline.DefaultConfig()
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warnf("Failed to parse settings file, please check its format. Loading default settings. Error: %v", err)
		settings = underline.DefaultConfig()
		return
	}
	if err := loaded.Validate(); err != nil {
		log.Warnf("Settings file holds invalid values, loading default settings. Error: %v", err)
		settings = underline.DefaultConfig()
		return
	}
	settings = loaded.Normalized()

	log.Info("Successfully loaded settings from settings.json")
}
