package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes OTel instruments pushed to the collector.
type Metrics struct {
	invoicesPersisted metric.Int64Counter
	bytesDownloaded   metric.Int64Counter
	extractDefaults   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "nfsync"
	}
	meter := provider.Meter(name)

	invoicesPersisted, err := meter.Int64Counter("nfsync_invoices_persisted_total")
	if err != nil {
		return nil, err
	}
	bytesDownloaded, err := meter.Int64Counter("nfsync_bytes_downloaded_total", metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	extractDefaults, err := meter.Int64Counter("nfsync_extract_defaulted_fields_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesPersisted: invoicesPersisted,
		bytesDownloaded:   bytesDownloaded,
		extractDefaults:   extractDefaults,
	}, nil
}

// RecordInvoicePersisted counts a stored invoice by document format.
func (m *Metrics) RecordInvoicePersisted(ctx context.Context, format string) {
	if m == nil {
		return
	}
	m.invoicesPersisted.Add(ctx, 1, metric.WithAttributes(attribute.String("format", strings.TrimSpace(format))))
}

// RecordDownload adds the size of a fetched file.
func (m *Metrics) RecordDownload(ctx context.Context, size int) {
	if m == nil || size <= 0 {
		return
	}
	m.bytesDownloaded.Add(ctx, int64(size))
}

// RecordDefaultedFields counts fields that fell back to a default.
func (m *Metrics) RecordDefaultedFields(ctx context.Context, format string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.extractDefaults.Add(ctx, int64(count), metric.WithAttributes(attribute.String("format", strings.TrimSpace(format))))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
