package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rendezvous-backend/pkg/env"
	"rendezvous-backend/pkg/logger"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// NewProvider creates the provider named by kind. Credentials come from the environment.
// Unknown kinds fall back to the mock provider.
func NewProvider(ctx context.Context, kind string) (Provider, error) {
	providerType := ProviderType(kind)
	logger.Info("Initializing push notification provider", zap.String("provider_type", kind))

	switch providerType {
	case ProviderTypeFCM:
		projectID := env.GetString("FCM_PROJECT_ID", "")
		if projectID == "" {
			return nil, fmt.Errorf("FCM_PROJECT_ID environment variable is required for FCM provider")
		}
		return NewFCMProvider(ctx, &FCMConfig{
			ProjectID:       projectID,
			CredentialsPath: env.GetString("FCM_CREDENTIALS_PATH", ""),
			CredentialsJSON: []byte(env.GetStringFromFile("FCM_CREDENTIALS_JSON", "")),
		})
	case ProviderTypeAPNs:
		return NewAPNsProvider(&APNsConfig{
			BundleID:            env.GetString("APNS_BUNDLE_ID", ""),
			KeyPath:             env.GetString("APNS_KEY_PATH", ""),
			KeyID:               env.GetString("APNS_KEY_ID", ""),
			TeamID:              env.GetString("APNS_TEAM_ID", ""),
			CertificatePath:     env.GetString("APNS_CERT_PATH", ""),
			CertificatePassword: env.GetStringFromFile("APNS_CERT_PASSWORD", ""),
			Production:          env.GetBool("APNS_PRODUCTION", false),
		})
	case ProviderTypeMock:
		return &MockProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to mock", zap.String("provider_type", kind))
		return &MockProvider{}, nil
	}
}
