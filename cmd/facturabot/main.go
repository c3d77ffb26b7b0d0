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

	"github.com/facturabot/facturabot/internal/bot"
	"github.com/facturabot/facturabot/internal/extraction"
	"github.com/facturabot/facturabot/internal/model"
	"github.com/facturabot/facturabot/internal/raster"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("facturabot")
	var (
		tgToken         = fs.StringLong("telegram-token", "", "Telegram bot token (or set FACTURABOT_TELEGRAM_TOKEN)")
		provider        = fs.StringLong("provider", "azure", "Model provider: 'azure' or 'gemini'")
		azureEndpoint   = fs.StringLong("azure-endpoint", "", "Azure OpenAI endpoint URL")
		azureKey        = fs.StringLong("azure-api-key", "", "Azure OpenAI API key")
		azureVersion    = fs.StringLong("azure-api-version", "2024-08-01-preview", "Azure OpenAI API version")
		azureDeployment = fs.StringLong("azure-deployment", "gpt-4o", "Azure OpenAI deployment name")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		pageLimit       = fs.IntLong("page-limit", raster.DefaultPageLimit, "Maximum PDF pages rendered per submission")
		strictPages     = fs.BoolLong("strict-pages", "Reject documents over the page limit instead of truncating")
		dpi             = fs.IntLong("dpi", raster.DefaultDPI, "PDF render resolution")
		jpegQuality     = fs.IntLong("jpeg-quality", raster.DefaultJPEGQuality, "JPEG re-encode quality (1-100)")
		defaultCurrency = fs.StringLong("default-currency", "", "Currency filled in when the document does not state one")
		modelTimeout    = fs.DurationLong("model-timeout", 60*time.Second, "Ceiling on one model call")
		hintsPath       = fs.StringLong("hints-db", "facturabot.db", "Hint database file path")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("FACTURABOT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *tgToken == "" {
		slog.Error("Telegram token is required. Set --telegram-token or FACTURABOT_TELEGRAM_TOKEN")
		os.Exit(1)
	}

	var client model.Client
	var err error
	switch *provider {
	case "azure":
		slog.Info("Initializing Azure OpenAI provider...", "deployment", *azureDeployment)
		client, err = model.NewAzure(model.AzureConfig{
			Endpoint:   *azureEndpoint,
			APIKey:     *azureKey,
			APIVersion: *azureVersion,
			Deployment: *azureDeployment,
		})
		if err != nil {
			slog.Error("Failed to initialize Azure OpenAI", "error", err)
			os.Exit(1)
		}
	case "gemini":
		slog.Info("Initializing Gemini provider...", "model", *geminiModel)
		client, err = model.NewGemini(*geminiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid provider", "provider", *provider, "valid", "azure or gemini")
		os.Exit(1)
	}
	defer client.Close()

	extractor, err := extraction.New(client, extraction.Options{
		Raster: raster.Options{
			PageLimit:       *pageLimit,
			DPI:             *dpi,
			JPEGQuality:     *jpegQuality,
			StrictPageLimit: *strictPages,
		},
		CurrencyFallback: *defaultCurrency,
		ModelTimeout:     *modelTimeout,
	}, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize extractor", "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing hint store...", "path", *hintsPath)
	hints, err := bot.NewBoltHintStore(*hintsPath)
	if err != nil {
		slog.Error("Failed to initialize hint store", "error", err)
		os.Exit(1)
	}
	defer hints.Close()

	b, err := bot.New(*tgToken, extractor, hints, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}

	b.Start()
	slog.Info("Bot started. Listening for messages...", "account", b.Username(), "version", version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	b.Stop()
}
