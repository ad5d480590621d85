// README: Firebase Admin SDK initialisation and token verifier.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Token holds the verified identity used by downstream middleware.
type Token struct {
	UID    string
	Role   string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw bearer token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	DatabaseURL     string
}

// NewFirebaseApp initialises the Admin SDK. If CredentialsFile is empty,
// application-default credentials / GOOGLE_APPLICATION_CREDENTIALS are used.
func NewFirebaseApp(ctx context.Context, cfg FirebaseConfig) (*firebase.App, error) {
	opts := []option.ClientOption{}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID, DatabaseURL: cfg.DatabaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

// firebaseVerifier is the production implementation backed by the Firebase Admin SDK.
type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier creates a TokenVerifier from an initialised app. The
// role comes from the "role" custom claim.
func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (TokenVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	role, _ := token.Claims["role"].(string)
	return &Token{UID: token.UID, Role: role, Claims: token.Claims}, nil
}
