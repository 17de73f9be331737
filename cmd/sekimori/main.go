package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bdobrica/Sekimori/common/environment"
	"github.com/bdobrica/Sekimori/common/version"
	"github.com/bdobrica/Sekimori/internal/sekimori/app"
	"github.com/bdobrica/Sekimori/internal/sekimori/config"
)

func main() {
	fmt.Printf("Sekimori Approval Engine\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	setupLogging()

	cfg, err := config.Load(environment.StringOr("SEKIMORI_CONFIG", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	engine, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sekimori: %v\n", err)
		os.Exit(1)
	}
	defer engine.Stop()

	if err := engine.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Sekimori: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures slog from SEKIMORI_LOG_LEVEL (debug, info, warn,
// error; defaults to info).
func setupLogging() {
	level := slog.LevelInfo
	switch environment.StringOr("SEKIMORI_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
