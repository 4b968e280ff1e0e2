package config

// A store holds serialized manifests as blobs.
type StoreConfig struct {
	// the S3 bucket in which manifests are kept
	Bucket string `yaml:"bucket"`
	// a key prefix, allowing the bucket to be shared with other applications
	Folder string `yaml:"folder"`
	// the AWS region hosting the bucket
	Region string `yaml:"region"`
}
