package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/terabiome/vmconfig/internal/config"
	"github.com/terabiome/vmconfig/internal/schema"
	"github.com/terabiome/vmconfig/internal/service"
	"github.com/terabiome/vmconfig/internal/template"
	"github.com/terabiome/vmconfig/pkg/logger"
	"github.com/terabiome/vmconfig/pkg/telemetry"
)

const templateFileName = "template.toml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	var tel *telemetry.Telemetry
	if cfg.TelemetryEnabled {
		var err error
		tel, err = telemetry.Initialize("vmconfig")
		if err != nil {
			log.Error("failed to initialize telemetry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				log.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	svc := service.NewConfigService(log)

	app := &cli.App{
		Name:                 "vmconfig",
		Usage:                "Validate and generate guest VM configuration documents",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Parse a configuration file and check its validity",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config-path",
						Aliases:  []string{"c"},
						Usage:    "Path to the TOML configuration file",
						Required: true,
					},
				},
				Action: func(cliCtx *cli.Context) error {
					return runCheck(ctx, svc, cliCtx.String("config-path"))
				},
			},
			{
				Name:  "generate",
				Usage: "Generate a template configuration file from architecture defaults",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "arch",
						Aliases:  []string{"a"},
						Usage:    "Guest architecture: riscv64, aarch64 or x86_64",
						Required: true,
					},
					&cli.UintFlag{
						Name:    "id",
						Aliases: []string{"i"},
						Usage:   "VM id",
					},
					&cli.StringFlag{
						Name:    "name",
						Aliases: []string{"n"},
						Usage:   "VM name",
					},
					&cli.IntFlag{
						Name:    "vm-type",
						Aliases: []string{"t"},
						Usage:   "VM type: 0 host_vm, 1 rtos, 2 linux",
					},
					&cli.IntFlag{
						Name:    "cpu-num",
						Aliases: []string{"c"},
						Usage:   "Number of virtual CPUs",
					},
					&cli.StringFlag{
						Name:    "entry-point",
						Aliases: []string{"e"},
						Usage:   "Guest entry point address (decimal, 0x hex or 0b binary)",
					},
					&cli.StringFlag{
						Name:    "kernel-path",
						Aliases: []string{"k"},
						Usage:   "Path of the kernel image",
					},
					&cli.StringFlag{
						Name:    "kernel-load-addr",
						Aliases: []string{"l"},
						Usage:   "Load address of the kernel image (decimal, 0x hex or 0b binary)",
					},
					&cli.StringFlag{
						Name:  "image-location",
						Usage: "Where the kernel image lives: \"fs\" or \"memory\"",
					},
					&cli.StringFlag{
						Name:  "cmdline",
						Usage: "Kernel command line",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"O"},
						Usage:   "Output directory for the template file",
						Value:   cfg.OutputDir,
					},
				},
				Action: func(cliCtx *cli.Context) error {
					return runGenerate(ctx, svc, cliCtx)
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func runCheck(ctx context.Context, svc *service.ConfigService, path string) error {
	document, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	_, violations, err := svc.Check(ctx, document)
	if err != nil {
		return fmt.Errorf("config file %q is invalid: %w", path, err)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, v.Error())
		}
		return fmt.Errorf("config file %q is invalid: %d violation(s)", path, len(violations))
	}

	fmt.Printf("Config file %q is valid.\n", path)
	return nil
}

func runGenerate(ctx context.Context, svc *service.ConfigService, cliCtx *cli.Context) error {
	arch, err := template.ParseArch(cliCtx.String("arch"))
	if err != nil {
		return err
	}

	ov, err := overridesFromFlags(cliCtx)
	if err != nil {
		return err
	}

	document, cfg, err := svc.Generate(ctx, arch, ov)
	if err != nil {
		return err
	}

	targetPath := filepath.Join(cliCtx.String("output"), templateFileName)
	if err := os.WriteFile(targetPath, document, 0o644); err != nil {
		return fmt.Errorf("failed to write template file %q: %w", targetPath, err)
	}

	fmt.Printf("Template file %q has been generated for VM %q.\n", targetPath, cfg.Base.Name)
	return nil
}

// overridesFromFlags builds the sparse override set: only flags the
// user actually passed make it in, so everything else keeps the
// architecture default.
func overridesFromFlags(cliCtx *cli.Context) (template.Overrides, error) {
	var ov template.Overrides

	if cliCtx.IsSet("id") {
		id := uint32(cliCtx.Uint("id"))
		ov.ID = &id
	}
	if cliCtx.IsSet("name") {
		name := cliCtx.String("name")
		ov.Name = &name
	}
	if cliCtx.IsSet("vm-type") {
		vmType := schema.VMType(cliCtx.Int("vm-type"))
		if !vmType.Valid() {
			return ov, fmt.Errorf("invalid vm type %d (0 host_vm, 1 rtos, 2 linux)", int(vmType))
		}
		ov.VMType = &vmType
	}
	if cliCtx.IsSet("cpu-num") {
		cpuNum := cliCtx.Int("cpu-num")
		if cpuNum <= 0 {
			return ov, fmt.Errorf("cpu num must be positive, got %d", cpuNum)
		}
		ov.CPUNum = &cpuNum
	}
	if cliCtx.IsSet("entry-point") {
		entry, err := parseAddr(cliCtx.String("entry-point"))
		if err != nil {
			return ov, fmt.Errorf("invalid entry point: %w", err)
		}
		ov.EntryPoint = &entry
	}
	if cliCtx.IsSet("kernel-load-addr") {
		addr, err := parseAddr(cliCtx.String("kernel-load-addr"))
		if err != nil {
			return ov, fmt.Errorf("invalid kernel load address: %w", err)
		}
		ov.KernelLoadAddr = &addr
	}

	loc := schema.ImageFileSystem
	if cliCtx.IsSet("image-location") {
		loc = schema.ImageLocation(cliCtx.String("image-location"))
		if !loc.Valid() {
			return ov, fmt.Errorf("invalid image location %q (\"fs\" or \"memory\")", string(loc))
		}
		ov.ImageLocation = &loc
	}
	if cliCtx.IsSet("kernel-path") {
		kernelPath := cliCtx.String("kernel-path")
		// Images already resident in memory are addressed by their
		// host path, so resolve it before it lands in the document.
		if loc == schema.ImageMemory {
			abs, err := filepath.Abs(kernelPath)
			if err != nil {
				return ov, fmt.Errorf("failed to resolve kernel path %q: %w", kernelPath, err)
			}
			kernelPath = abs
		}
		ov.KernelPath = &kernelPath
	}
	if cliCtx.IsSet("cmdline") {
		cmdline := cliCtx.String("cmdline")
		ov.Cmdline = &cmdline
	}

	return ov, nil
}

// parseAddr accepts decimal, 0x-prefixed hex and 0b-prefixed binary.
func parseAddr(s string) (uint64, error) {
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		return strconv.ParseUint(s[2:], 16, 64)
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		return strconv.ParseUint(s[2:], 2, 64)
	default:
		return strconv.ParseUint(s, 10, 64)
	}
}
