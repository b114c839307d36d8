package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/redistd/redistd/internal/config"
	"github.com/redistd/redistd/internal/gc"
	"github.com/redistd/redistd/internal/keycodec"
	"github.com/redistd/redistd/internal/store"
)

// alwaysOwner makes redist-gcctl scan the whole keyspace regardless of
// cluster topology: an operator running this tool by hand wants every
// orphaned key in range handled, not just this node's slot share.
type alwaysOwner struct{}

func (alwaysOwner) Owns(slot uint16, numSlots int) bool { return true }

func main() {
	configPath := flag.String("config", "", "path to redistd TOML config (optional, for meta_key_number)")
	dryRun := flag.Bool("dry-run", false, "report how many orphaned keys would be collected, without deleting anything")
	workers := flag.Int("workers", 4, "concurrent GC workers for this one-shot pass")
	instanceID := flag.String("instance-id", "default", "instance_id namespace prefix to scan")
	flag.Parse()

	log := buildLogger()
	log = log.Named("redist-gcctl")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadTOML(cfg, *configPath)
		if err != nil {
			log.Fatal("failed to load config", zap.Error(err))
		}
		cfg = loaded
	}
	if *instanceID != "" {
		cfg.InstanceID = *instanceID
	}

	codec := keycodec.New([]byte(cfg.InstanceID), cfg.MetaKeyNumber)
	eng := store.NewMemEngine()

	mode := "collect"
	if *dryRun {
		mode = "dry-run"
	}
	log.Info("starting GC pass", zap.String("mode", mode), zap.Int("workers", *workers), zap.String("instance_id", cfg.InstanceID))

	start := time.Now()
	n, err := gc.RunOnce(context.Background(), codec, eng, alwaysOwner{}, *workers, *dryRun)
	if err != nil {
		log.Fatal("GC pass failed", zap.Error(err))
	}

	if *dryRun {
		fmt.Printf("would collect %d orphaned key(s)\n", n)
	} else {
		fmt.Printf("collected %d orphaned key(s)\n", n)
	}
	log.Info("GC pass complete", zap.Int("collected", n), zap.Duration("took", time.Since(start)))

	if n == 0 {
		os.Exit(0)
	}
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.InfoLevel)
	return zap.Must(logConfig.Build())
}
