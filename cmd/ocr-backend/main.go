/**
 * OCR Backend - Main Entry Point
 *
 * Accepts an image upload on POST /ocr, forwards it to OCR.space as a
 * base64 data URI and returns the recognized text. Uploaded files are
 * removed once the request finishes.
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/docscan-worker/internal/clients"
	"github.com/adverant/nexus/docscan-worker/internal/config"
	"github.com/adverant/nexus/docscan-worker/internal/logging"
	"github.com/adverant/nexus/docscan-worker/internal/ocrbackend"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadBackendConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload directory: %v", err)
	}

	timeout := time.Duration(cfg.OCRTimeout) * time.Millisecond
	ocr := clients.NewOCRSpaceClient(cfg.OCRAPIURL, cfg.OCRAPIKey, timeout)
	handler := ocrbackend.NewHandler(ocr, cfg.UploadDir, cfg.MaxUploadSize, timeout, logging.NewLogger("OCRBackend"))
	server := ocrbackend.NewServer(cfg.Port, handler, cfg.AllowedOrigins)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Printf("Shutdown complete")
}
