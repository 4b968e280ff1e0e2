package config

type GlobusConfig struct {
	// base URL of the Globus Transfer API
	TransferURL string `yaml:"transfer_url"`
	// default sync level passed with transfer submissions
	// (one of "exists", "size", "mtime", "checksum")
	SyncLevel string `yaml:"sync_level"`
	// whether submitted transfers request checksum verification
	// (feature-flagged: some endpoint generations reject it)
	VerifyChecksums bool `yaml:"verify_checksums"`
}
