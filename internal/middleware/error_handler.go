package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CustomErrorHandler creates a custom error handler for Echo that renders
// every error as a JSON body with a single "error" field.
func CustomErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	errorMessage := ""

	// Check if it's an Echo HTTPError
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code

		// Try to extract message from HTTPError
		if msg, ok := he.Message.(string); ok && msg != "" {
			errorMessage = msg
		}

		// Default message per status if no custom message provided
		if errorMessage == "" {
			switch code {
			case http.StatusNotFound:
				errorMessage = "The resource you're looking for doesn't exist."
			case http.StatusForbidden:
				errorMessage = "You don't have permission to access this resource."
			case http.StatusUnauthorized:
				errorMessage = "Please log in to continue."
			case http.StatusBadRequest:
				errorMessage = "The request could not be processed."
			case http.StatusMethodNotAllowed:
				errorMessage = "Method not allowed."
			default:
				errorMessage = "Something went wrong. Please try again later."
			}
		}
	} else {
		// Non-HTTPError, use default
		errorMessage = "Something went wrong. Please try again later."
	}

	// Log the error
	c.Logger().Error(err)

	if c.Response().Committed {
		return
	}

	if sendErr := c.JSON(code, map[string]string{"error": errorMessage}); sendErr != nil {
		c.Logger().Error(sendErr)
	}
}
