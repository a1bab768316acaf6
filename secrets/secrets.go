// Package secrets loads the device credentials for the cloud service from
// a static local file sitting next to the binary. No flag or environment
// override.
package secrets

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cloudbutton-go/errcode"
)

// DefaultPath is resolved relative to the working directory.
const DefaultPath = "secrets.yaml"

type Secrets struct {
	Cloud Cloud `yaml:"cloud"`
}

type Cloud struct {
	DeviceID  string `yaml:"device_id"`
	SecretKey string `yaml:"secret_key"`
}

// Load reads and validates the secrets file. A missing or incomplete file
// is a startup-fatal error; the caller must not attempt to connect.
func Load(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errcode.E{C: errcode.SecretsMissing, Op: "read", Msg: path, Err: err}
	}

	var s Secrets
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if s.Cloud.DeviceID == "" || s.Cloud.SecretKey == "" {
		return nil, &errcode.E{C: errcode.SecretsMissing, Op: "validate",
			Msg: "cloud.device_id and cloud.secret_key are required"}
	}
	return &s, nil
}
