package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/router"
)

const openAPIFile = "public/docs/v1/openapi.yml"

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	container, err := bootstrap.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	defer container.Close()

	app := NewApplication(cfg, container)
	container.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort)); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

func NewApplication(cfg *config.Config, container *bootstrap.Container) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "PayFox",
		BodyLimit: 1 << 20, // gateway deliveries are small JSON documents
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if cfg.MetricsUser != "" && cfg.MetricsPassword != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				cfg.MetricsUser: cfg.MetricsPassword,
			},
		}), monitor.New(monitor.Config{Title: "PayFox Metrics"}))
	}

	// SWAGGER / OPENAPI
	if basePath, ok := findBasePath(); ok {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + openAPIFile,
			Path:     "v1",
		}))
	} else {
		log.Printf("%s not found, API docs disabled", openAPIFile)
	}

	// ROUTER
	router.InstallRouter(app, container)

	return app
}

func findBasePath() (string, bool) {
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/server to project root
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + openAPIFile); err == nil {
			return path, true
		}
	}
	return "", false
}
