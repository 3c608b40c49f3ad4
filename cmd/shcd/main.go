// Package main is the entry point for shcd, the smart-home control bus
// process (spec component G).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/buildinfo"
	"github.com/shc-project/shc/internal/config"
	"github.com/shc-project/shc/internal/datalog"
	"github.com/shc-project/shc/internal/interfaces/github"
	"github.com/shc-project/shc/internal/interfaces/mailbox"
	"github.com/shc-project/shc/internal/interfaces/mqtt"
	"github.com/shc-project/shc/internal/supervisor"
	"github.com/shc-project/shc/internal/timer"
	"github.com/shc-project/shc/internal/webapi"
	"github.com/shc-project/shc/internal/webui"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
		return
	}

	os.Exit(run(logger, *configPath))
}

func run(logger *slog.Logger, configPath string) int {
	logger.Info("starting shcd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "err", err)
		return 1
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "err", err)
		return 1
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "err", err)
			return 1
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}
	logger.Info("config loaded", "path", cfgPath, "listen_port", cfg.Listen.Port, "data_dir", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "err", err)
		return 1
	}

	store, err := datalog.NewSQLiteStore(filepath.Join(cfg.DataDir, "log.db"), "log")
	if err != nil {
		logger.Error("failed to open data log store", "err", err)
		return 1
	}
	defer store.Close()

	built, err := cfg.Graph.Build(store, logger)
	if err != nil {
		logger.Error("failed to build connection graph", "err", err)
		return 1
	}
	logger.Info("connection graph built", "objects", len(built.Objects))

	timers := timer.NewSupervisor(logger)
	for _, s := range built.Startables {
		if t, ok := s.(*timer.Timer); ok {
			timers.Register(t)
		}
	}

	proc := supervisor.NewProcessSupervisor(logger, timers)
	for _, obj := range built.Objects {
		if v, ok := obj.(supervisor.VariableInitializer); ok {
			proc.RegisterVariable(v)
		}
	}

	registerInterfaces(proc, cfg, built.Objects, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := webapi.NewServer(cfg.Listen.Address, cfg.Listen.Port, built.Objects, cfg.Auth, logger)

	if cfg.UI.Configured() {
		registry, err := webui.Build(cfg.UI, built.Objects)
		if err != nil {
			logger.Error("failed to build dashboard pages", "err", err)
			return 1
		}
		ui := webui.NewServer(registry, cfg.UI.IndexPage, logger)
		api.Mount("/", ui)
		logger.Info("dashboard mounted", "pages", len(registry.Names()))
	}

	go func() {
		if err := api.Start(ctx); err != nil {
			logger.Error("web API server failed", "err", err)
			proc.InterfaceFailure("webapi")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, configuration reload is not yet supported; ignoring")
				continue
			}
			logger.Info("shutdown signal received", "signal", sig)
			cancel()
			proc.Shutdown(context.Background())
			_ = api.Shutdown(context.Background())
			return
		}
	}()

	exitCode := proc.Run(ctx)
	logger.Info("shcd stopped", "exit_code", exitCode)
	return exitCode
}

// registerInterfaces builds and registers every configured supervised
// interface against the process supervisor. Each interface is independently
// optional; a misconfigured one is logged and skipped rather than aborting
// startup of the rest of the process.
func registerInterfaces(proc *supervisor.ProcessSupervisor, cfg *config.Config, objects map[string]any, logger *slog.Logger) {
	if cfg.Interfaces.MQTT.Configured() {
		targets := make(map[string]base.Writable)
		for topic, objName := range cfg.Interfaces.MQTT.Topics {
			w, ok := resolveWritable(objects, objName)
			if !ok {
				logger.Error("mqtt: topic target object not found or not writable", "topic", topic, "object", objName)
				continue
			}
			targets[topic] = w
		}
		iface := mqtt.New(cfg.Interfaces.MQTT, targets, logger)
		registerSupervised(proc, iface, logger)
	}

	if cfg.Interfaces.Mailbox.Configured() {
		target, ok := resolveWritable(objects, cfg.Interfaces.Mailbox.Object)
		if !ok {
			logger.Error("mailbox: target object not found or not writable", "object", cfg.Interfaces.Mailbox.Object)
		} else {
			iface := mailbox.New(cfg.Interfaces.Mailbox, target, logger)
			registerSupervised(proc, iface, logger)
		}
	}

	if cfg.Interfaces.GitHub.Configured() {
		target, ok := resolveWritable(objects, cfg.Interfaces.GitHub.Object)
		if !ok {
			logger.Error("github: target object not found or not writable", "object", cfg.Interfaces.GitHub.Object)
		} else {
			iface, err := github.New(cfg.Interfaces.GitHub, target, logger)
			if err != nil {
				logger.Error("github: failed to construct interface", "err", err)
			} else {
				registerSupervised(proc, iface, logger)
			}
		}
	}
}

// resolveWritable looks up name in objects and reports whether it exists and
// implements base.Writable.
func resolveWritable(objects map[string]any, name string) (base.Writable, bool) {
	obj, ok := objects[name]
	if !ok {
		return nil, false
	}
	w, ok := obj.(base.Writable)
	return w, ok
}

// registerSupervised wraps iface in an InterfaceSupervisor using the default
// reconnect backoff and registers it with proc.
func registerSupervised(proc *supervisor.ProcessSupervisor, iface supervisor.Interface, logger *slog.Logger) {
	is := supervisor.New(iface, supervisor.DefaultConfig(), logger, proc.InterfaceFailure)
	proc.RegisterInterface(is)
}
