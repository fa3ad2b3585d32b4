package provider

import (
	"fmt"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

// NewDefaultFactory returns a Factory that constructs the concrete backend
// for a name using the credentials ProviderRegistry resolved for it.
func NewDefaultFactory() Factory {
	return func(name BackendName, creds Credentials) (Port, error) {
		switch name {
		case BackendGemini:
			return NewGeminiProvider(GeminiConfig{
				APIKey: creds.APIKey,
				Model:  creds.ModelID,
			})
		case BackendHuggingFace:
			return NewHuggingFaceProvider(HuggingFaceConfig{
				APIKey:   creds.APIKey,
				Endpoint: creds.Endpoint,
				ModelID:  creds.ModelID,
			})
		case BackendLocal:
			return NewLocalProvider(LocalConfig{
				BaseURL: creds.Endpoint,
				ModelID: creds.ModelID,
			})
		default:
			return nil, orcherr.New(orcherr.ProviderUnavailable, "provider.factory", fmt.Sprintf("unknown backend %q", name))
		}
	}
}
