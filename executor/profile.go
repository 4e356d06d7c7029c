package executor

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/kbukum/devflow/validation"
)

// Profile kinds.
const (
	ProfileNative = "native"
	ProfileDocker = "docker"
	ProfileSSH    = "ssh"
)

// ProfileKey is the node config key holding the execution profile.
const ProfileKey = "executionProfile"

// Profile selects and configures the environment a node runs in.
type Profile struct {
	Kind           string `json:"profile,omitempty" validate:"omitempty,oneof=native docker ssh"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" validate:"gte=0"`
	DockerImage    string `json:"dockerImage,omitempty"`
	CPULimit       string `json:"cpuLimit,omitempty"`
	MemLimit       string `json:"memLimit,omitempty"`
	SSHHost        string `json:"sshHost,omitempty" validate:"required_if=Kind ssh"`
	SSHUser        string `json:"sshUser,omitempty"`
	SSHPort        int    `json:"sshPort,omitempty" validate:"gte=0,lte=65535"`
}

// KindOrDefault returns the profile kind, native when unset.
func (p Profile) KindOrDefault() string {
	if p.Kind == "" {
		return ProfileNative
	}
	return p.Kind
}

// Timeout returns the configured timeout, zero when unset.
func (p Profile) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ParseProfile reads the execution profile from a node config. A missing
// key yields the native profile.
func ParseProfile(config map[string]any) (Profile, error) {
	var p Profile
	raw, ok := config[ProfileKey]
	if !ok || raw == nil {
		return p, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(raw); err != nil {
		return p, fmt.Errorf("executionProfile: %w", err)
	}
	if err := validation.Validate(&p); err != nil {
		return p, err
	}
	return p, nil
}
