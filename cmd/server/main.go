// Command server runs the speech AI detection API.
//
// Usage:
//
//	server [serve] [--config speech-ai-api.yaml]
//	server spectrogram clip.wav -o clip.png
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/speech-ai-api/internal/config"
	"github.com/Brownie44l1/speech-ai-api/internal/handlers"
	"github.com/Brownie44l1/speech-ai-api/internal/model"
	"github.com/Brownie44l1/speech-ai-api/internal/server"
	"github.com/Brownie44l1/speech-ai-api/internal/spectrogram"
	"github.com/Brownie44l1/speech-ai-api/internal/storage"
)

// version is set at build time via ldflags.
var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:     "speech-ai-api",
	Short:   "Speech AI detection API",
	Long:    `Classify uploaded speech as human or AI generated from its spectrogram.`,
	Version: version,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var spectrogramOut string

var spectrogramCmd = &cobra.Command{
	Use:   "spectrogram <audio file>",
	Short: "Render the spectrogram the classifier would see",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpectrogram,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (e.g. configs/speech-ai-api.yaml)")
	spectrogramCmd.Flags().StringVarP(&spectrogramOut, "output", "o", "spectrogram.png", "output PNG path")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(spectrogramCmd)
}

func newExtractor(cfg *config.Config) (*spectrogram.Extractor, error) {
	return spectrogram.New(spectrogram.Options{
		SampleRate: cfg.Spectrogram.SampleRate,
		NFFT:       cfg.Spectrogram.NFFT,
		HopLength:  cfg.Spectrogram.HopLength,
		Width:      cfg.Spectrogram.Width,
		Height:     cfg.Spectrogram.Height,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config.SetupLogging(cfg.Logging)
	slog.Info("speech-ai-api starting", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("loading model", "path", cfg.Model.Path)
	modelServer, err := model.NewServer(model.Config{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		UseGPU:       cfg.Model.UseGPU,
		LibraryPath:  cfg.Model.LibraryPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize model server: %w", err)
	}
	defer modelServer.Close()

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Server.UploadDir)
	if err != nil {
		return err
	}

	handler := handlers.NewHandler(modelServer, extractor, store)
	router := server.NewRouter(handler, server.RouterOptions{
		MetricsEnabled: cfg.Server.MetricsEnabled,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	slog.Info("endpoints",
		"health", "GET /health",
		"predict", "POST /predict",
		"upload", "POST /upload-mp3/",
		"metrics", cfg.Server.MetricsEnabled)
	slog.Info(fmt.Sprintf("upload test: curl -X POST -F \"file=@clip.wav\" http://localhost:%d/predict", cfg.Server.Port))

	return server.New(cfg.Server.Port, router).ListenAndServe(ctx)
}

func runSpectrogram(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config.SetupLogging(cfg.Logging)

	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}

	img, err := extractor.Extract(args[0])
	if err != nil {
		return err
	}
	data, err := spectrogram.EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(spectrogramOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", spectrogramOut, err)
	}

	b := img.Bounds()
	slog.Info("spectrogram written", "input", args[0], "output", spectrogramOut, "width", b.Dx(), "height", b.Dy())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}
