package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/karigar/karigar/internal/client"
	"github.com/karigar/karigar/internal/config"
	"github.com/karigar/karigar/internal/handlers"
	"github.com/karigar/karigar/internal/middleware"
	"github.com/karigar/karigar/internal/repository"
	"github.com/karigar/karigar/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	logger  = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "karigar",
	Short: "Karigar artisan API: OTP login and scheme application tracking",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.InfoLevel)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var genSecretCmd = &cobra.Command{
	Use:   "gen-secret",
	Short: "Print a random key suitable for JWT_SECRET_KEY",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := service.GenerateSecretKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var initTableCmd = &cobra.Command{
	Use:   "init-table",
	Short: "Create the DynamoDB table and its artisan index",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		dynamoClient, err := initDynamoDB(ctx, cfg)
		if err != nil {
			return err
		}
		return repository.CreateTable(ctx, dynamoClient, cfg.DynamoDB.TableName)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd, genSecretCmd, initTableCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dynamoClient, err := initDynamoDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize DynamoDB: %w", err)
	}

	redisClient, err := initRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	// Initialize repositories
	artisanRepo := repository.NewArtisanRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	applicationRepo := repository.NewApplicationRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	sessionStore := repository.NewOTPSessionStore(redisClient, logger)

	// Initialize services
	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	tokenService := service.NewTokenService(jwtService, service.NewRefreshTokenService(redisClient, logger), logger)

	var sender service.OTPSender = service.NewLogSender(logger)
	if cfg.SMS.GatewayURL != "" {
		sender = client.NewSMSClient(cfg.SMS.GatewayURL, cfg.SMS.APIKey, cfg.SMS.SenderID)
	} else {
		logger.Warn("SMS_GATEWAY_URL not set, OTPs will only be logged")
	}

	otpService := service.NewOTPService(sessionStore, artisanRepo, tokenService, sender, &cfg.OTP, logger)
	tracker := service.NewApplicationTracker(
		applicationRepo,
		service.NewPortalRegistryFromConfig(cfg.Portals),
		cfg.Tracker,
		logger,
	)

	router := handlers.NewRouter(
		handlers.NewAuthHandlers(otpService, tokenService, artisanRepo, logger),
		handlers.NewApplicationHandlers(tracker, logger),
		handlers.NewWebhookHandlers(tracker, logger),
		middleware.NewAuthMiddleware(tokenService, logger),
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":    cfg.Server.Port,
			"portals": len(cfg.Portals),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}

func initDynamoDB(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func initRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return rdb, nil
}
