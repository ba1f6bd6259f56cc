package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/emailer"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/emaillog"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

const (
	metricEmailSent   = "proxy.email.sent"
	metricEmailFailed = "proxy.email.failed"
)

// EmailProxyConfig configures the email relay route.
type EmailProxyConfig struct {
	Mailer     *emailer.Client
	Deliveries emaillog.Store
	Logger     *zap.Logger
	Metrics    sessionkit.MetricsRecorder
	Clock      sessionkit.Clock
}

// recipientList accepts either a single address or an array of them.
type recipientList []string

// UnmarshalJSON implements json.Unmarshaler.
func (list *recipientList) UnmarshalJSON(raw []byte) error {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		*list = recipientList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return err
	}
	*list = recipientList(many)
	return nil
}

type emailRequest struct {
	To        recipientList  `json:"to"`
	Subject   string         `json:"subject"`
	HTML      string         `json:"html"`
	EmailType string         `json:"emailType"`
	Metadata  map[string]any `json:"metadata"`
}

// MountEmailProxyRoutes registers POST /send-email.
func MountEmailProxyRoutes(router gin.IRouter, configuration EmailProxyConfig) {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = sessionkit.NewCounterMetrics()
	}
	clock := configuration.Clock
	if clock == nil {
		clock = sessionkit.NewSystemClock()
	}

	router.POST("/send-email", func(contextGin *gin.Context) {
		timestamp := clock.Now().UTC().Format(time.RFC3339)

		var inbound emailRequest
		if err := contextGin.BindJSON(&inbound); err != nil {
			metrics.Increment(metricEmailFailed)
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success":   false,
				"error":     "Invalid request body",
				"timestamp": timestamp,
			})
			return
		}
		if len(inbound.To) == 0 || inbound.Subject == "" || inbound.HTML == "" {
			metrics.Increment(metricEmailFailed)
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success":   false,
				"error":     "Missing required fields: to, subject, html",
				"timestamp": timestamp,
			})
			return
		}

		emailType := inbound.EmailType
		if emailType == "" {
			emailType = "general"
		}

		result, sendErr := configuration.Mailer.Send(contextGin, emailer.Message{
			To:        []string(inbound.To),
			Subject:   inbound.Subject,
			HTML:      inbound.HTML,
			EmailType: emailType,
		})
		if sendErr != nil {
			metrics.Increment(metricEmailFailed)
			logger.Error("email send failed",
				zap.String("code", "proxy.email.failed"),
				zap.String("type", emailType),
				zap.Error(sendErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success":   false,
				"error":     safeSendError(sendErr),
				"timestamp": timestamp,
			})
			return
		}

		if configuration.Deliveries != nil {
			for _, recipient := range inbound.To {
				recordErr := configuration.Deliveries.Record(contextGin, emaillog.Entry{
					MessageID:  result.MessageID,
					Recipient:  recipient,
					Subject:    inbound.Subject,
					EmailType:  emailType,
					StatusCode: result.StatusCode,
					SentAt:     clock.Now().UTC(),
				})
				if recordErr != nil {
					logger.Warn("delivery log write failed",
						zap.String("code", "proxy.email.log_failed"),
						zap.Error(recordErr))
				}
			}
		}

		metrics.Increment(metricEmailSent)
		contextGin.JSON(result.StatusCode, gin.H{
			"success":   true,
			"messageId": result.MessageID,
			"emailType": emailType,
			"timestamp": timestamp,
		})
	})
}

// safeSendError keeps provider credentials and transport details out of
// the response body.
func safeSendError(sendErr error) string {
	var providerErr *emailer.ProviderError
	if errors.As(sendErr, &providerErr) {
		return providerErr.Message
	}
	if errors.Is(sendErr, emailer.ErrNoRecipients) {
		return "Missing required fields: to, subject, html"
	}
	return "Failed to send email"
}
