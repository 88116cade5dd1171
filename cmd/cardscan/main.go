package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"cardscan/internal/batch"
	"cardscan/internal/card"
	"cardscan/internal/vision"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("cardscan")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "cardscan.db", "Database file path")
		storagePath = fs.StringLong("storage", "./uploads", "Storage directory path")
		provider    = fs.StringLong("provider", "watsonx", "Vision provider: 'watsonx' or 'gemini'")
		wxURL       = fs.StringLong("watsonx-url", "https://us-south.ml.cloud.ibm.com", "watsonx.ai service URL")
		wxKey       = fs.StringLong("watsonx-api-key", "", "IBM Cloud API key (or set WATSONX_APIKEY env var)")
		wxProject   = fs.StringLong("watsonx-project-id", "", "watsonx.ai project ID (or set WATSONX_PROJECT_ID env var)")
		wxModel     = fs.StringLong("watsonx-model", "meta-llama/llama-3-2-11b-vision-instruct", "watsonx.ai vision model ID")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		concurrency = fs.IntLong("concurrency", 3, "Max concurrent inference calls per batch")
		attempts    = fs.IntLong("attempts", 3, "Max attempts per image for retryable errors")
		backoffSec  = fs.IntLong("backoff", 1, "Base retry backoff in seconds, doubled per attempt")
		timeoutSec  = fs.IntLong("call-timeout", 60, "Per inference call timeout in seconds")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CARDSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := card.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize vision client based on provider
	var client vision.Client
	switch *provider {
	case "watsonx":
		apiKey := *wxKey
		if apiKey == "" {
			apiKey = os.Getenv("WATSONX_APIKEY")
		}
		projectID := *wxProject
		if projectID == "" {
			projectID = os.Getenv("WATSONX_PROJECT_ID")
		}
		if apiKey == "" {
			slog.Error("watsonx API key is required. Set --watsonx-api-key flag or WATSONX_APIKEY environment variable")
			os.Exit(1)
		}
		if projectID == "" {
			slog.Error("watsonx project ID is required. Set --watsonx-project-id flag or WATSONX_PROJECT_ID environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing watsonx.ai client...", "url", *wxURL, "model", *wxModel)
		client, err = vision.NewWatsonx(*wxURL, apiKey, projectID, *wxModel)
		if err != nil {
			slog.Error("Failed to initialize watsonx client", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini client...", "model", *geminiModel)
		client, err = vision.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini client", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid provider", "provider", *provider, "valid", "watsonx or gemini")
		os.Exit(1)
	}
	defer client.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := card.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	cfg := batch.Config{
		Concurrency: *concurrency,
		MaxAttempts: *attempts,
		BackoffBase: time.Duration(*backoffSec) * time.Second,
		CallTimeout: time.Duration(*timeoutSec) * time.Second,
	}
	service := card.NewService(db, client, store, cfg)

	// Initialize server
	basicAuth := card.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := card.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
