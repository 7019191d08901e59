// Package service exposes transport-agnostic check and generate
// operations over VM configuration documents. The CLI is its only
// caller today, but nothing here knows about flags or files.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/terabiome/vmconfig/internal/schema"
	"github.com/terabiome/vmconfig/internal/template"
	"github.com/terabiome/vmconfig/internal/validate"
)

// ConfigService wraps the pure schema/validate/template core with
// logging and operation metrics.
type ConfigService struct {
	logger *slog.Logger

	checkCounter     metric.Int64Counter
	generateCounter  metric.Int64Counter
	checkDuration    metric.Float64Histogram
	generateDuration metric.Float64Histogram
}

// NewConfigService creates a new ConfigService.
func NewConfigService(logger *slog.Logger) *ConfigService {
	meter := otel.Meter("vmconfig/service")

	checkCounter, err := meter.Int64Counter(
		"vmconfig.check",
		metric.WithDescription("Number of config check operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		logger.Warn("failed to create checkCounter metric", slog.String("error", err.Error()))
	}

	generateCounter, err := meter.Int64Counter(
		"vmconfig.generate",
		metric.WithDescription("Number of template generate operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		logger.Warn("failed to create generateCounter metric", slog.String("error", err.Error()))
	}

	checkDuration, err := meter.Float64Histogram(
		"vmconfig.check.duration",
		metric.WithDescription("Duration of config check operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create checkDuration metric", slog.String("error", err.Error()))
	}

	generateDuration, err := meter.Float64Histogram(
		"vmconfig.generate.duration",
		metric.WithDescription("Duration of template generate operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create generateDuration metric", slog.String("error", err.Error()))
	}

	return &ConfigService{
		logger:           logger.With(slog.String("service", "config")),
		checkCounter:     checkCounter,
		generateCounter:  generateCounter,
		checkDuration:    checkDuration,
		generateDuration: generateDuration,
	}
}

// Check parses and validates one configuration document. Parse and
// schema problems come back through err; a well-shaped document that
// breaks cross-field invariants comes back with the complete ordered
// violation list and a nil err.
func (s *ConfigService) Check(ctx context.Context, document []byte) (*schema.VMConfig, []validate.Error, error) {
	tracer := otel.Tracer("vmconfig/service")
	ctx, span := tracer.Start(ctx, "Check")
	defer span.End()

	start := time.Now()
	defer func() {
		if s.checkDuration != nil {
			s.checkDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	cfg, err := schema.Load(document)
	if err != nil {
		s.count(ctx, s.checkCounter, "rejected")
		return nil, nil, err
	}

	violations := validate.Config(cfg)
	if len(violations) > 0 {
		s.logger.Info("config rejected",
			slog.String("name", cfg.Base.Name),
			slog.Int("violations", len(violations)),
		)
		s.count(ctx, s.checkCounter, "invalid")
		return cfg, violations, nil
	}

	s.logger.Debug("config accepted", slog.String("name", cfg.Base.Name))
	s.count(ctx, s.checkCounter, "valid")
	return cfg, nil, nil
}

// Generate produces a validated template document for the given
// architecture and overrides, already rendered to TOML.
func (s *ConfigService) Generate(ctx context.Context, arch template.Arch, ov template.Overrides) ([]byte, *schema.VMConfig, error) {
	tracer := otel.Tracer("vmconfig/service")
	ctx, span := tracer.Start(ctx, "Generate")
	defer span.End()

	span.SetAttributes(attribute.String("vm.arch", string(arch)))

	start := time.Now()
	defer func() {
		if s.generateDuration != nil {
			s.generateDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	cfg, err := template.Generate(arch, ov)
	if err != nil {
		s.count(ctx, s.generateCounter, "failed")
		return nil, nil, err
	}

	document, err := schema.Render(cfg)
	if err != nil {
		s.count(ctx, s.generateCounter, "failed")
		return nil, nil, fmt.Errorf("render %s template: %w", arch, err)
	}

	s.logger.Debug("template generated",
		slog.String("arch", string(arch)),
		slog.String("name", cfg.Base.Name),
	)
	s.count(ctx, s.generateCounter, "ok")
	return document, cfg, nil
}

func (s *ConfigService) count(ctx context.Context, counter metric.Int64Counter, result string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
