package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// FirebaseConfig locates the service account used by the Admin SDK
type FirebaseConfig struct {
	ProjectID       string
	CredentialsPath string
}

// NewFirebaseApp initializes the Firebase Admin SDK. Credentials are read into
// memory from CredentialsPath (a Docker secret in production). Without a path
// the SDK falls back to application default credentials.
func NewFirebaseApp(ctx context.Context, cfg *FirebaseConfig) (*firebase.App, error) {
	var opts []option.ClientOption
	projectID := cfg.ProjectID

	if cfg.CredentialsPath != "" {
		credentials, err := os.ReadFile(cfg.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read Firebase credentials: %w", err)
		}
		if projectID == "" {
			var creds struct {
				ProjectID string `json:"project_id"`
			}
			if err := json.Unmarshal(credentials, &creds); err != nil {
				return nil, fmt.Errorf("failed to parse Firebase credentials: %w", err)
			}
			projectID = creds.ProjectID
		}
		opts = append(opts, option.WithCredentialsJSON(credentials))
	}

	var appCfg *firebase.Config
	if projectID != "" {
		appCfg = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, appCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	return app, nil
}
