package credentials

// Credentials represents the stored secrets in credentials.toml.
type Credentials struct {
	Version   int                           `toml:"version"`
	Providers map[string]ProviderCredential `toml:"providers"`
}

// ProviderCredential holds the secret for a single provider. For matrix it
// is the access token.
type ProviderCredential struct {
	APIKey string `toml:"api_key"`
}
