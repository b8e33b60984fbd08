package services

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// InitFirebase initializes the Firebase Admin SDK and returns the auth client
// used to verify staff ID tokens. Credentials come from the given file; an
// empty path falls back to application default credentials so deployments on
// GCP need no key file.
func InitFirebase(credPath string) (*auth.Client, error) {
	var opts []option.ClientOption
	if credPath != "" {
		if _, err := os.Stat(credPath); err != nil {
			return nil, fmt.Errorf("firebase credentials file %s: %w", credPath, err)
		}
		opts = append(opts, option.WithCredentialsFile(credPath))
	}

	app, err := firebase.NewApp(context.Background(), nil, opts...)
	if err != nil {
		return nil, err
	}
	return app.Auth(context.Background())
}
