// Package payments serves the browser-side payment client bootstrap:
// the publishable key and the fixed checkout appearance. No payment
// protocol logic lives in the gateway.
package payments

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Appearance is the checkout theme handed to the payment widget.
type Appearance struct {
	Theme     string              `json:"theme"`
	Variables AppearanceVariables `json:"variables"`
}

// AppearanceVariables are the CSS-level knobs of the theme.
type AppearanceVariables struct {
	ColorPrimary    string `json:"colorPrimary"`
	ColorBackground string `json:"colorBackground"`
	ColorText       string `json:"colorText"`
	ColorDanger     string `json:"colorDanger"`
	FontFamily      string `json:"fontFamily"`
	SpacingUnit     string `json:"spacingUnit"`
	BorderRadius    string `json:"borderRadius"`
}

// DefaultAppearance returns the application checkout theme.
func DefaultAppearance() Appearance {
	return Appearance{
		Theme: "stripe",
		Variables: AppearanceVariables{
			ColorPrimary:    "#22c55e",
			ColorBackground: "#ffffff",
			ColorText:       "#1f2937",
			ColorDanger:     "#ef4444",
			FontFamily:      "Inter, system-ui, sans-serif",
			SpacingUnit:     "4px",
			BorderRadius:    "8px",
		},
	}
}

// Config configures the payment bootstrap route.
type Config struct {
	PublishableKey string
	Appearance     Appearance
}

// MountPaymentRoutes registers GET /payments/config.
func MountPaymentRoutes(router gin.IRouter, configuration Config) {
	appearance := configuration.Appearance
	if appearance.Theme == "" {
		appearance = DefaultAppearance()
	}
	router.GET("/payments/config", func(contextGin *gin.Context) {
		if strings.TrimSpace(configuration.PublishableKey) == "" {
			contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "payments_not_configured"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"publishableKey": configuration.PublishableKey,
			"appearance":     appearance,
		})
	})
}
