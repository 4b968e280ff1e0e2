package config

import (
	"fmt"

	"github.com/google/uuid"
)

type AuthConfig struct {
	// the base URL of the OAuth2 authority that issues concierge tokens
	URL string `yaml:"url"`
	// the client ID (uuid) registered with the authority
	ClientId uuid.UUID `yaml:"client_id"`
	// the client secret used to introspect and exchange tokens
	// DO NOT STORE THIS IN A CONFIG FILE! Use an environment variable instead
	ClientSecret string `yaml:"client_secret"`
	// how long an introspection result may be trusted before the next use
	// forces re-validation (seconds)
	IntrospectionWindow int `yaml:"introspection_window"`
	// base64url-encoded fernet key used to encrypt token records at rest
	// DO NOT STORE THIS IN A CONFIG FILE! Use an environment variable instead
	RecordKey string `yaml:"record_key"`
}

func (a AuthConfig) validate() error {
	var zeroId uuid.UUID
	if a.ClientId == zeroId {
		return fmt.Errorf("No auth client_id was provided!")
	}
	if a.ClientSecret == "" {
		return fmt.Errorf("No auth client_secret was provided!")
	}
	if a.IntrospectionWindow < 0 {
		return fmt.Errorf("Invalid introspection_window: %d (must be non-negative)",
			a.IntrospectionWindow)
	}
	return nil
}
