package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"agentcore/internal/infra/config"
	"agentcore/internal/infra/logger"
	"agentcore/internal/infra/tracer"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "submit":
		if err := runSubmit(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "submit: %v\n", err)
			os.Exit(1)
		}
	case "validate-config":
		if err := runValidateConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "validate-config: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println("agentcore", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'agentcore --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`agentcore - agent task orchestration service

USAGE:
    agentcore [COMMAND] [FLAGS]

COMMANDS:
    serve            Run the orchestrator and gateway (default)
    submit           Queue a task on a running gateway
                     Flags: --agent ID, --type execute|plan|chat, --input TEXT,
                            --priority N, --timeout DURATION, --wait, --addr HOST:PORT
    validate-config  Load and validate the config file, then run health checks
    encrypt          Encrypt a secret for use as an enc: config value
                     Reads the passphrase from AGENTCORE_MASTER_KEY
    version          Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (or AGENTCORE_CONFIG)
    Environment: AGENTCORE_* variables override config

EXAMPLES:
    agentcore                                   # Run with config.yaml
    agentcore --config /etc/agentcore.yaml      # Run with custom config
    agentcore submit --agent writer --input "draft release notes" --wait
    AGENTCORE_MASTER_KEY=... agentcore encrypt sk-...`)
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. LLM providers
	llmComponents, err := initLLM(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 4. Orchestration core, recurring jobs and gateway
	rt, err := initRuntime(ctx, cfg, llmComponents, log)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Close(shutdownCtx); err != nil {
			log.Error("runtime cleanup error", "error", err)
		}
	}()

	// 5. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("agentcore starting",
		"version", version,
		"provider", cfg.LLM.DefaultProvider,
		"agents", len(rt.Manager.GetAllAgents()),
		"tools", len(rt.Manager.GetTools()),
		"recurring", len(rt.Recurring.Jobs()),
		"gateway", rt.Gateway != nil,
		"max_concurrent", cfg.Scheduler.MaxConcurrent,
	)

	// 6. Start
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.Recurring.Start(gctx)
		<-gctx.Done()
		rt.Recurring.Stop()
		return nil
	})
	if rt.Gateway != nil {
		g.Go(func() error {
			return rt.Gateway.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown requested")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func configPath() string {
	if p := flagValue(os.Args[1:], "config"); p != "" {
		return p
	}
	if p := os.Getenv("AGENTCORE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// flagValue extracts --name VALUE or --name=VALUE from args.
func flagValue(args []string, name string) string {
	long := "--" + name
	for i, arg := range args {
		if arg == long && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, long+"=") {
			return strings.TrimPrefix(arg, long+"=")
		}
	}
	return ""
}

// hasFlag reports whether the boolean --name flag is present.
func hasFlag(args []string, name string) bool {
	long := "--" + name
	for _, arg := range args {
		if arg == long {
			return true
		}
	}
	return false
}

// runEncrypt prints the enc: form of a plaintext secret.
func runEncrypt(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: agentcore encrypt <plaintext>")
	}
	passphrase := os.Getenv(config.MasterKeyEnv)
	if passphrase == "" {
		return fmt.Errorf("%s is not set", config.MasterKeyEnv)
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
