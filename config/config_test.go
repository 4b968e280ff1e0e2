package config

// These tests verify that we can properly configure the concierge service
// with YAML input.
import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// a valid service config entry
const VALID_SERVICE string = `
service:
  port: 8080
  max_connections: 100
  data_directory: /tmp
`

// a valid auth config entry
const VALID_AUTH string = `
auth:
  client_id: 4a13a9de-43fe-47c4-a0b9-e7fcbe3ba1b2
  client_secret: sooper-sekrit
  introspection_window: 30
`

// tests whether config.Load reports an error for blank input
func TestLoadRejectsBlankInput(t *testing.T) {
	_, err := Load([]byte(""))
	assert.NotNil(t, err, "Blank config didn't trigger an error.")
}

// tests whether config.Load reports an error for an invalid port
func TestLoadRejectsBadPort(t *testing.T) {
	yaml := "service:\n  port: -1\n  data_directory: /tmp\n\n" + VALID_AUTH
	_, err := Load([]byte(yaml))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
	yaml = "service:\n  port: 1000000\n  data_directory: /tmp\n\n" + VALID_AUTH
	_, err = Load([]byte(yaml))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
}

// tests whether config.Load rejects a configuration without auth credentials
func TestLoadRejectsMissingAuthCredentials(t *testing.T) {
	_, err := Load([]byte(VALID_SERVICE))
	assert.NotNil(t, err, "Config with no auth credentials didn't trigger an error.")
}

// tests whether config.Load rejects a negative introspection window
func TestLoadRejectsBadIntrospectionWindow(t *testing.T) {
	yaml := VALID_SERVICE + `
auth:
  client_id: 4a13a9de-43fe-47c4-a0b9-e7fcbe3ba1b2
  client_secret: sooper-sekrit
  introspection_window: -5
`
	_, err := Load([]byte(yaml))
	assert.NotNil(t, err, "Config with negative introspection window didn't trigger an error.")
}

// tests that defaults are applied to fields omitted from the input
func TestLoadAppliesDefaults(t *testing.T) {
	assert := assert.New(t) // binds assert to t

	conf, err := Load([]byte(VALID_SERVICE + VALID_AUTH))
	assert.Nil(err)
	assert.Equal("Concierge Service", conf.Service.Name)
	assert.Equal("https://transfer.api.globusonline.org", conf.Globus.TransferURL)
	assert.Equal("checksum", conf.Globus.SyncLevel)
	assert.Equal([]string{"globus"}, conf.Manifests.StagingProtocols)
	assert.Equal(30*time.Second, conf.Auth.Window())
	assert.True(conf.Manifests.MaxVerifyDepth > 0)
	assert.True(conf.Manifests.MaxVerifyFiles > 0)
}
