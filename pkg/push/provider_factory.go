package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// NewProvider builds the configured provider. app is only needed for FCM.
func NewProvider(ctx context.Context, providerType ProviderType, app *firebase.App, apns *APNsConfig) (Provider, error) {
	logger.Info("Initializing push notification provider",
		zap.String("provider_type", string(providerType)))

	switch providerType {
	case ProviderTypeFCM:
		return NewFCMProvider(ctx, app)
	case ProviderTypeAPNs:
		return NewAPNsProvider(apns)
	case ProviderTypeMock, "":
		return &MockProvider{}, nil
	}
	return nil, fmt.Errorf("unknown push provider %q", providerType)
}
