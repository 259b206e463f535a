// Package otelmirror emits queued telemetry events as OpenTelemetry log
// records over OTLP. It is a best-effort second sink next to the durable
// queue: export failures are logged and never reach the caller.
package otelmirror

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinel-pii/sentinel/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"
)

const scopeName = "github.com/sentinel-pii/sentinel/telemetry"

type Config struct {
	Endpoint string
	Protocol string // "grpc" or "http"
	Insecure bool
	Headers  map[string]string

	Timeout      time.Duration
	BatchTimeout time.Duration

	Resource *resource.Resource
}

// Mirror is safe for concurrent use.
type Mirror struct {
	provider *sdklog.LoggerProvider
	logger   otellog.Logger
}

func New(ctx context.Context, cfg Config) (*Mirror, error) {
	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otel log exporter: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	interval := cfg.BatchTimeout
	if interval == 0 {
		interval = 5 * time.Second
	}
	proc := sdklog.NewBatchProcessor(exp,
		sdklog.WithExportTimeout(timeout),
		sdklog.WithExportInterval(interval),
	)
	return newMirror(proc, cfg.Resource), nil
}

// NewWithExporter wires exp through a synchronous processor.
func NewWithExporter(exp sdklog.Exporter, res *resource.Resource) *Mirror {
	return newMirror(sdklog.NewSimpleProcessor(exp), res)
}

func newMirror(proc sdklog.Processor, res *resource.Resource) *Mirror {
	opts := []sdklog.LoggerProviderOption{sdklog.WithProcessor(proc)}
	if res != nil {
		opts = append(opts, sdklog.WithResource(res))
	}
	p := sdklog.NewLoggerProvider(opts...)
	return &Mirror{provider: p, logger: p.Logger(scopeName)}
}

// Emit converts ev to a log record and hands it to the processor.
func (m *Mirror) Emit(ctx context.Context, ev types.TelemetryEvent) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.Emit(ctx, convert(ev))
}

// Close flushes pending records, waiting at most ten seconds.
func (m *Mirror) Close() error {
	if m == nil || m.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.provider.Shutdown(ctx); err != nil {
		slog.Warn("otel log provider shutdown error", "error", err)
		return err
	}
	return nil
}

func convert(ev types.TelemetryEvent) otellog.Record {
	var rec otellog.Record
	if ts, err := ev.Time(); err == nil {
		rec.SetTimestamp(ts)
	}
	sev := severity(ev.Action)
	rec.SetSeverity(sev)
	rec.SetSeverityText(sev.String())
	rec.SetBody(otellog.StringValue(body(ev)))

	attrs := []otellog.KeyValue{
		otellog.String("sentinel.event_id", ev.EventID),
		otellog.String("sentinel.secret_type", string(ev.SecretType)),
		otellog.String("sentinel.action", string(ev.Action)),
		otellog.String("sentinel.agent_version", ev.AgentVersion),
	}
	if ev.AppName != nil {
		attrs = append(attrs, otellog.String("sentinel.app_name", *ev.AppName))
	}
	if ev.Rule != nil {
		attrs = append(attrs, otellog.String("sentinel.rule", *ev.Rule))
	}
	if ev.MachineIDHashed != nil {
		attrs = append(attrs, otellog.String("sentinel.machine_id_hashed", *ev.MachineIDHashed))
	}
	rec.AddAttributes(attrs...)
	return rec
}

func body(ev types.TelemetryEvent) string {
	if ev.AppName != nil {
		return fmt.Sprintf("%s secret %s in %s", ev.SecretType, ev.Action, *ev.AppName)
	}
	return fmt.Sprintf("%s secret %s", ev.SecretType, ev.Action)
}

func severity(a types.Action) otellog.Severity {
	if a == types.ActionBlocked {
		return otellog.SeverityWarn
	}
	return otellog.SeverityInfo
}

// BuildResource describes the emitting agent.
func BuildResource(serviceName, version string) *resource.Resource {
	kvs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if version != "" {
		kvs = append(kvs, semconv.ServiceVersion(version))
	}
	res, _ := resource.New(context.Background(), resource.WithAttributes(kvs...))
	return res
}

func newExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}
	switch cfg.Protocol {
	case "grpc":
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploggrpc.WithTimeout(cfg.Timeout))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploggrpc.WithHeaders(cfg.Headers))
		}
		if cfg.Insecure {
			opts = append(opts, otlploggrpc.WithInsecure())
		} else {
			opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		}
		return otlploggrpc.New(ctx, opts...)

	case "http", "":
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(cfg.Timeout))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
		}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTEL protocol %q", cfg.Protocol)
	}
}
