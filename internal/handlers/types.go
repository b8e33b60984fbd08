package handlers

import "os"

// getEnv reads an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// statusResponse is the payload for the public status-polling endpoints
type statusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}
