// Package proxy exposes the AI-provider and transactional-email relays
// as gateway routes. Provider credentials live server-side only; the
// browser talks to these routes with its session bearer token.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

const (
	// ServiceOpenAI selects the OpenAI upstream.
	ServiceOpenAI = "openai"
	// ServiceAnthropic selects the Anthropic upstream.
	ServiceAnthropic = "anthropic"
	// ServicePerplexity selects the Perplexity upstream.
	ServicePerplexity = "perplexity"
)

const anthropicVersion = "2023-06-01"

const (
	metricAIForwarded = "proxy.ai.forwarded"
	metricAIRejected  = "proxy.ai.rejected"
)

// UserResolver validates a bearer access token and returns its identity.
type UserResolver interface {
	ResolveUser(ctx context.Context, accessToken string) (*sessionkit.Identity, error)
}

// ServiceKeys holds per-provider API keys.
type ServiceKeys struct {
	OpenAI     string
	Anthropic  string
	Perplexity string
}

// AIProxyConfig configures the AI relay route.
type AIProxyConfig struct {
	Keys ServiceKeys
	// BaseURLOverrides replaces a provider's base URL, for tests.
	BaseURLOverrides map[string]string
	HTTPClient       *http.Client
	Logger           *zap.Logger
	Metrics          sessionkit.MetricsRecorder
}

type upstreamTarget struct {
	baseURL         string
	defaultEndpoint string
}

var upstreamTargets = map[string]upstreamTarget{
	ServiceOpenAI:     {baseURL: "https://api.openai.com/v1", defaultEndpoint: "chat/completions"},
	ServiceAnthropic:  {baseURL: "https://api.anthropic.com/v1", defaultEndpoint: "messages"},
	ServicePerplexity: {baseURL: "https://api.perplexity.ai", defaultEndpoint: "chat/completions"},
}

// MountAIProxyRoutes registers POST /api-proxy.
func MountAIProxyRoutes(router gin.IRouter, configuration AIProxyConfig, resolver UserResolver) {
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = sessionkit.NewCounterMetrics()
	}

	router.POST("/api-proxy", func(contextGin *gin.Context) {
		bearer := bearerFromHeader(contextGin.GetHeader("Authorization"))
		if bearer == "" {
			metrics.Increment(metricAIRejected)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_bearer"})
			return
		}
		identity, resolveErr := resolver.ResolveUser(contextGin, bearer)
		if resolveErr != nil || identity == nil {
			metrics.Increment(metricAIRejected)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		var inbound struct {
			Service  string          `json:"service"`
			Payload  json.RawMessage `json:"payload"`
			Endpoint string          `json:"endpoint"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil {
			metrics.Increment(metricAIRejected)
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		serviceName := strings.ToLower(strings.TrimSpace(inbound.Service))
		target, known := upstreamTargets[serviceName]
		if !known {
			metrics.Increment(metricAIRejected)
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown_service"})
			return
		}
		serviceKey := configuration.Keys.keyFor(serviceName)
		if serviceKey == "" {
			logger.Error("provider key not configured", zap.String("code", "proxy.ai.no_key"), zap.String("service", serviceName))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "proxy_failure"})
			return
		}

		baseURL := target.baseURL
		if override, found := configuration.BaseURLOverrides[serviceName]; found {
			baseURL = override
		}
		endpoint := strings.Trim(inbound.Endpoint, "/")
		if endpoint == "" {
			endpoint = target.defaultEndpoint
		}

		upstreamRequest, buildErr := http.NewRequestWithContext(contextGin, http.MethodPost,
			strings.TrimRight(baseURL, "/")+"/"+endpoint, bytes.NewReader(inbound.Payload))
		if buildErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "proxy_failure"})
			return
		}
		upstreamRequest.Header.Set("Content-Type", "application/json")
		if serviceName == ServiceAnthropic {
			upstreamRequest.Header.Set("x-api-key", serviceKey)
			upstreamRequest.Header.Set("anthropic-version", anthropicVersion)
		} else {
			upstreamRequest.Header.Set("Authorization", "Bearer "+serviceKey)
		}

		upstreamResponse, doErr := httpClient.Do(upstreamRequest)
		if doErr != nil {
			logger.Error("upstream call failed", zap.String("code", "proxy.ai.upstream"), zap.String("service", serviceName), zap.Error(doErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "proxy_failure"})
			return
		}
		defer func() { _ = upstreamResponse.Body.Close() }()
		rawBody, readErr := io.ReadAll(upstreamResponse.Body)
		if readErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "proxy_failure"})
			return
		}

		metrics.Increment(metricAIForwarded)
		logger.Info("ai request forwarded",
			zap.String("code", "proxy.ai.forwarded"),
			zap.String("service", serviceName),
			zap.String("user_id", identity.ID),
			zap.Int("status", upstreamResponse.StatusCode))

		contentType := upstreamResponse.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		contextGin.Data(upstreamResponse.StatusCode, contentType, rawBody)
	})
}

func (keys ServiceKeys) keyFor(serviceName string) string {
	switch serviceName {
	case ServiceOpenAI:
		return keys.OpenAI
	case ServiceAnthropic:
		return keys.Anthropic
	case ServicePerplexity:
		return keys.Perplexity
	default:
		return ""
	}
}

func bearerFromHeader(headerValue string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(headerValue, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(headerValue, prefix))
}
