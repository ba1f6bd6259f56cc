package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientConfig contains the values the SPA reads before it can talk to
// the backend. Only publishable values belong here.
type ClientConfig struct {
	BackendURL     string
	AnonKey        string
	PublishableKey string
}

// ServeClientConfig emits a JavaScript payload that hydrates
// window.__FADDL_CONFIG.
func ServeClientConfig(contextGin *gin.Context, configuration ClientConfig) {
	backendURL := configuration.BackendURL
	if strings.TrimSpace(backendURL) == "" {
		scheme := forwardedProto(contextGin.Request)
		host := contextGin.Request.Host
		if host == "" {
			host = "localhost"
		}
		backendURL = fmt.Sprintf("%s://%s", scheme, host)
	}
	payload := struct {
		BackendURL     string `json:"backendUrl"`
		AnonKey        string `json:"anonKey"`
		PublishableKey string `json:"publishableKey"`
	}{
		BackendURL:     backendURL,
		AnonKey:        configuration.AnonKey,
		PublishableKey: configuration.PublishableKey,
	}

	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "web.client_config.encode_failed",
		})
		return
	}

	script := fmt.Sprintf(`(function(){window.__FADDL_CONFIG=Object.freeze(%s);})();`, string(encoded))

	contextGin.Header("Content-Type", "application/javascript; charset=utf-8")
	contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
	contextGin.Header("Pragma", "no-cache")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.String(http.StatusOK, script)
}

func forwardedProto(request *http.Request) string {
	if request == nil {
		return "https"
	}
	if headerValue := request.Header.Get("X-Forwarded-Proto"); headerValue != "" {
		return headerValue
	}
	if request.TLS != nil {
		return "https"
	}
	if request.URL != nil && request.URL.Scheme != "" {
		return request.URL.Scheme
	}
	return "http"
}
