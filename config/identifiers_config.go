package config

// The identifier service registers persistent identifiers for manifests.
type IdentifiersConfig struct {
	// the base URL at which the identifier service is accessed
	URL string `yaml:"url"`
	// the namespace under which production identifiers are minted
	Namespace string `yaml:"namespace"`
	// the namespace under which test identifiers are minted
	TestNamespace string `yaml:"test_namespace"`
	// whether identifiers are minted as test identifiers by default
	Test bool `yaml:"test"`
}
