package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/emailer"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/emaillog"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/emaillogpg"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/payments"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/proxy"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/querycache"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/routeguard"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/supaclient"
	"github.com/nicholsmindset/faddlmatch-sub001/internal/web"
	"github.com/nicholsmindset/faddlmatch-sub001/pkg/accesstoken"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "faddl-gateway",
		Short:   "Session gateway with auth lifecycle, provider proxies, and route guarding",
		PreRunE: prepareGatewayConfig,
		RunE:    runGateway,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("backend_url", "", "Auth/data backend base URL")
	rootCmd.Flags().String("anon_key", "", "Publishable backend anon key")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 secret shared with the auth backend")
	rootCmd.Flags().String("jwt_issuer", "", "Expected access token issuer; defaults to <backend_url>/auth/v1")
	rootCmd.Flags().Duration("refresh_interval", sessionkit.DefaultRefreshInterval, "Proactive session refresh interval")
	rootCmd.Flags().String("password_reset_redirect_url", "", "Redirect target for password reset emails")
	rootCmd.Flags().String("sign_in_path", routeguard.DefaultSignInPath, "Sign-in entry point for guarded redirects")
	rootCmd.Flags().String("openai_api_key", "", "OpenAI API key for the AI proxy")
	rootCmd.Flags().String("anthropic_api_key", "", "Anthropic API key for the AI proxy")
	rootCmd.Flags().String("perplexity_api_key", "", "Perplexity API key for the AI proxy")
	rootCmd.Flags().String("resend_api_key", "", "Resend API key for the email proxy")
	rootCmd.Flags().String("email_from", "", "Verified sender address; empty uses the onboarding default")
	rootCmd.Flags().String("email_log_database_url", "", "Delivery log database URL (postgres:// or sqlite://; leave empty for in-memory)")
	rootCmd.Flags().String("email_log_driver", "gorm", "Delivery log driver for postgres URLs: gorm or pgx")
	rootCmd.Flags().String("stripe_publishable_key", "", "Publishable payment key served to the browser")
	rootCmd.Flags().Bool("enable_cors", false, "Enable credentialed CORS for the application surface")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	rootCmd.Flags().Float64("functions_rate", 5, "Requests per second per IP on the functions group")
	rootCmd.Flags().Int("functions_burst", 10, "Burst size per IP on the functions group")

	for _, flagName := range []string{
		"listen_addr", "backend_url", "anon_key", "jwt_signing_key", "jwt_issuer",
		"refresh_interval", "password_reset_redirect_url", "sign_in_path",
		"openai_api_key", "anthropic_api_key", "perplexity_api_key",
		"resend_api_key", "email_from", "email_log_database_url", "email_log_driver",
		"stripe_publishable_key", "enable_cors", "cors_allowed_origins",
		"functions_rate", "functions_burst",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingBackendURL     = "config.missing_backend_url"
	configCodeMissingAnonKey        = "config.missing_anon_key"
	configCodeMissingJWTSigningKey  = "config.missing_jwt_signing_key"
	configCodeInvalidRefreshInt     = "config.invalid_refresh_interval"
	configCodeInvalidEmailLogDriver = "config.invalid_email_log_driver"
	configCodeUninitializedConfig   = "config.uninitialized_gateway_config"
)

type contextKey string

const gatewayConfigContextKey contextKey = "gatewayConfig"

// GatewayConfig is the validated process configuration.
type GatewayConfig struct {
	BackendURL               string
	AnonKey                  string
	JWTSigningKey            []byte
	JWTIssuer                string
	RefreshInterval          time.Duration
	PasswordResetRedirectURL string
	SignInPath               string
	ServiceKeys              proxy.ServiceKeys
	ResendAPIKey             string
	EmailFrom                string
	EmailLogDatabaseURL      string
	EmailLogDriver           string
	StripePublishableKey     string
}

func prepareGatewayConfig(command *cobra.Command, arguments []string) error {
	gatewayConfig, loadErr := LoadGatewayConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, gatewayConfigContextKey, gatewayConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadGatewayConfig reads and validates configuration from viper.
func LoadGatewayConfig() (GatewayConfig, error) {
	backendURL := strings.TrimRight(viper.GetString("backend_url"), "/")
	if backendURL == "" {
		return GatewayConfig{}, configError(configCodeMissingBackendURL, "backend_url must be provided")
	}

	anonKey := viper.GetString("anon_key")
	if anonKey == "" {
		return GatewayConfig{}, configError(configCodeMissingAnonKey, "anon_key must be provided")
	}

	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return GatewayConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	refreshInterval := viper.GetDuration("refresh_interval")
	if refreshInterval <= 0 {
		return GatewayConfig{}, configError(configCodeInvalidRefreshInt, "refresh_interval must be greater than zero")
	}

	emailLogDriver := viper.GetString("email_log_driver")
	if emailLogDriver != "gorm" && emailLogDriver != "pgx" {
		return GatewayConfig{}, configError(configCodeInvalidEmailLogDriver, "email_log_driver must be gorm or pgx")
	}

	jwtIssuer := viper.GetString("jwt_issuer")
	if jwtIssuer == "" {
		jwtIssuer = backendURL + "/auth/v1"
	}

	return GatewayConfig{
		BackendURL:               backendURL,
		AnonKey:                  anonKey,
		JWTSigningKey:            []byte(jwtSigningKey),
		JWTIssuer:                jwtIssuer,
		RefreshInterval:          refreshInterval,
		PasswordResetRedirectURL: viper.GetString("password_reset_redirect_url"),
		SignInPath:               viper.GetString("sign_in_path"),
		ServiceKeys: proxy.ServiceKeys{
			OpenAI:     viper.GetString("openai_api_key"),
			Anthropic:  viper.GetString("anthropic_api_key"),
			Perplexity: viper.GetString("perplexity_api_key"),
		},
		ResendAPIKey:         viper.GetString("resend_api_key"),
		EmailFrom:            viper.GetString("email_from"),
		EmailLogDatabaseURL:  viper.GetString("email_log_database_url"),
		EmailLogDriver:       emailLogDriver,
		StripePublishableKey: viper.GetString("stripe_publishable_key"),
	}, nil
}

func buildDeliveryLog(ctx context.Context, gatewayConfig GatewayConfig, logger *zap.Logger) (emaillog.Store, error) {
	if gatewayConfig.EmailLogDatabaseURL == "" {
		logger.Info("using in-memory email delivery log")
		return emaillog.NewMemoryStore(), nil
	}
	if gatewayConfig.EmailLogDriver == "pgx" {
		pool, poolErr := emaillogpg.BuildPool(ctx, gatewayConfig.EmailLogDatabaseURL)
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := emaillogpg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, schemaErr
		}
		logger.Info("using persistent email delivery log", zap.String("driver", "pgx"))
		return emaillogpg.NewPostgresStore(pool), nil
	}
	store, storeErr := emaillog.NewDatabaseStore(ctx, gatewayConfig.EmailLogDatabaseURL)
	if storeErr != nil {
		return nil, storeErr
	}
	logger.Info("using persistent email delivery log", zap.String("driver", store.Driver()))
	return store, nil
}

func runGateway(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(gatewayConfigContextKey)
	}
	gatewayConfig, ok := contextValue.(GatewayConfig)
	if !ok {
		return configError(configCodeUninitializedConfig, "gateway configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	functionsRate := viper.GetFloat64("functions_rate")
	functionsBurst := viper.GetInt("functions_burst")

	backend, backendErr := supaclient.NewClient(supaclient.Config{
		BaseURL: gatewayConfig.BackendURL,
		AnonKey: gatewayConfig.AnonKey,
		Logger:  logger,
	})
	if backendErr != nil {
		return backendErr
	}

	metricsRecorder := sessionkit.NewCounterMetrics()
	controller, controllerErr := sessionkit.NewController(sessionkit.ControllerConfig{
		Backend:                  backend,
		Logger:                   logger,
		Metrics:                  metricsRecorder,
		RefreshInterval:          gatewayConfig.RefreshInterval,
		PasswordResetRedirectURL: gatewayConfig.PasswordResetRedirectURL,
	})
	if controllerErr != nil {
		return controllerErr
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	controller.Start(runCtx)
	defer controller.Close()
	if initializeErr := controller.Initialize(runCtx); initializeErr != nil {
		logger.Warn("session initialize failed", zap.String("code", "gateway.initialize"), zap.Error(initializeErr))
	}

	queryCache := querycache.New(querycache.Config{Logger: logger})
	stopCacheBinding := queryCache.FollowSession(controller)
	defer stopCacheBinding()

	deliveryLog, deliveryErr := buildDeliveryLog(runCtx, gatewayConfig, logger)
	if deliveryErr != nil {
		return deliveryErr
	}

	validator, validatorErr := accesstoken.New(accesstoken.Config{
		SigningKey: gatewayConfig.JWTSigningKey,
		Issuer:     gatewayConfig.JWTIssuer,
	})
	if validatorErr != nil {
		return validatorErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestID())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/config.js", func(contextGin *gin.Context) {
		web.ServeClientConfig(contextGin, web.ClientConfig{
			BackendURL:     gatewayConfig.BackendURL,
			AnonKey:        gatewayConfig.AnonKey,
			PublishableKey: gatewayConfig.StripePublishableKey,
		})
	})

	payments.MountPaymentRoutes(router, payments.Config{
		PublishableKey: gatewayConfig.StripePublishableKey,
	})

	functions := router.Group("/functions/v1")
	functions.Use(web.ConfigureFunctionsCORS())
	functionsLimiter := web.NewRateLimiter(rate.Limit(functionsRate), functionsBurst)
	defer functionsLimiter.Stop()
	functions.Use(functionsLimiter.Middleware())

	proxy.MountAIProxyRoutes(functions, proxy.AIProxyConfig{
		Keys:    gatewayConfig.ServiceKeys,
		Logger:  logger,
		Metrics: metricsRecorder,
	}, backend)

	if gatewayConfig.ResendAPIKey != "" {
		mailClient, mailErr := emailer.NewClient(emailer.Config{
			APIKey:      gatewayConfig.ResendAPIKey,
			FromAddress: gatewayConfig.EmailFrom,
			Logger:      logger,
		})
		if mailErr != nil {
			return mailErr
		}
		proxy.MountEmailProxyRoutes(functions, proxy.EmailProxyConfig{
			Mailer:     mailClient,
			Deliveries: deliveryLog,
			Logger:     logger,
			Metrics:    metricsRecorder,
		})
	} else {
		logger.Warn("email proxy disabled", zap.String("code", "gateway.email_disabled"))
	}

	guarded := router.Group("/app")
	guarded.Use(routeguard.RequireAuthenticated(controller, gatewayConfig.SignInPath))
	guarded.GET("/session", func(contextGin *gin.Context) {
		snapshot := controller.Snapshot()
		response := gin.H{"state": string(snapshot.State)}
		if snapshot.Identity != nil {
			response["user_id"] = snapshot.Identity.ID
			response["email"] = snapshot.Identity.Email
		}
		contextGin.JSON(http.StatusOK, response)
	})

	protected := router.Group("/api")
	protected.Use(validator.GinMiddleware(""))
	protected.GET("/me", func(contextGin *gin.Context) {
		claims, found := accesstoken.ClaimsFromContext(contextGin, "")
		if !found {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"user_id": claims.GetUserID(),
			"email":   claims.GetEmail(),
			"role":    claims.GetRole(),
		})
	})

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(runCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.String("request_id", contextGin.GetString("request_id")),
			zap.Duration("elapsed", duration),
		)
	}
}
