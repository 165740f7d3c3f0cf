// Package config loads the server settings file. A missing file is
// replaced by a written default (the operator is expected to review it and
// restart); a file missing any expected key is rejected outright.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// DefaultPath is the settings file used when no flag overrides it.
const DefaultPath = "server_settings.json"

var (
	// ErrWroteDefault signals that no settings file existed and a default
	// one was written for review. Startup must halt.
	ErrWroteDefault = errors.New("settings file not found, wrote default")
	// ErrInvalidSchema signals a settings file missing expected keys.
	ErrInvalidSchema = errors.New("settings file has an invalid schema")
)

// Settings is the full server configuration.
type Settings struct {
	HostToBind      string       `json:"host_to_bind"`
	InsecureEnabled bool         `json:"insecure_enabled"`
	SecureEnabled   bool         `json:"secure_enabled"`
	HTTPEnabled     bool         `json:"http_enabled"`
	Ports           Ports        `json:"ports"`
	SSLCert         SSLCert      `json:"ssl_cert"`
	Gimp            GimpSettings `json:"gimp"`
	LogLevel        string       `json:"log_level"`
	LogPath         string       `json:"log_path"`
}

// Ports holds the per-protocol listen ports.
type Ports struct {
	HTTP  int `json:"http"`
	HTTPS int `json:"https"`
	WS    int `json:"ws"`
	WSS   int `json:"wss"`
}

// SSLCert holds the TLS material paths used by the secure listeners.
type SSLCert struct {
	CertFile string `json:"certfile"`
	KeyFile  string `json:"keyfile"`
}

// GimpSettings configures the compositing subsystem.
type GimpSettings struct {
	Enabled               bool   `json:"enabled"`
	SessionPort           int    `json:"session_port"`
	BackgroundImgPath     string `json:"background_img_path"`
	ForegroundImgsDirPath string `json:"foreground_imgs_dir_path"`
	OutputImgsDirPath     string `json:"output_imgs_dir_path"`
	OutputImgExtension    string `json:"output_img_extension"`
}

// Default returns the settings written when no file exists.
func Default() *Settings {
	return &Settings{
		HostToBind:      "127.0.0.1",
		InsecureEnabled: true,
		SecureEnabled:   false,
		HTTPEnabled:     false,
		Ports: Ports{
			HTTP:  80,
			HTTPS: 443,
			WS:    9282,
			WSS:   9283,
		},
		SSLCert: SSLCert{},
		Gimp: GimpSettings{
			Enabled:            false,
			SessionPort:        11859,
			OutputImgExtension: "jpg",
		},
		LogLevel: "info",
		LogPath:  "",
	}
}

// Load reads the settings file at path. If the file does not exist, a
// default one is written and ErrWroteDefault is returned. If the file
// parses but is missing any expected key, ErrInvalidSchema is returned.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if werr := Default().Save(path); werr != nil {
				return nil, fmt.Errorf("failed to write default settings: %w", werr)
			}
			return nil, fmt.Errorf("%w: %s", ErrWroteDefault, path)
		}
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if !schemaComplete(raw, defaultSchema()) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, path)
	}

	settings := Default()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return settings, nil
}

// Save writes the settings as indented JSON.
func (s *Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func defaultSchema() map[string]interface{} {
	data, _ := json.Marshal(Default())
	var schema map[string]interface{}
	_ = json.Unmarshal(data, &schema)
	return schema
}

// schemaComplete checks that every key present in the expected object tree
// also exists in the checked one. Extra keys and value types are not
// policed; only missing keys reject the file.
func schemaComplete(check, expected interface{}) bool {
	expectedObj, ok := expected.(map[string]interface{})
	if !ok {
		return true
	}
	checkObj, ok := check.(map[string]interface{})
	if !ok {
		return false
	}
	for key, expectedVal := range expectedObj {
		checkVal, present := checkObj[key]
		if !present {
			return false
		}
		if !schemaComplete(checkVal, expectedVal) {
			return false
		}
	}
	return true
}
