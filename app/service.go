// Package app wires the configuration into a running fleet service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/openwash/fleetd/config"
	"github.com/openwash/fleetd/core/command"
	"github.com/openwash/fleetd/core/command/logging"
	"github.com/openwash/fleetd/core/devicestatus"
	"github.com/openwash/fleetd/core/ingest"
	"github.com/openwash/fleetd/core/liveness"
	coremetrics "github.com/openwash/fleetd/core/metrics"
	"github.com/openwash/fleetd/core/model"
	"github.com/openwash/fleetd/core/processor"
	"github.com/openwash/fleetd/core/signature"
	"github.com/openwash/fleetd/infra/ledger"
	"github.com/openwash/fleetd/infra/logger"
	"github.com/openwash/fleetd/infra/metrics"
	"github.com/openwash/fleetd/infra/mqtt"
	"github.com/openwash/fleetd/internal/eventbus"
)

// livenessSweepInterval paces the periodic offline scan recorded on
// the metric sinks.
const livenessSweepInterval = 30 * time.Second

// Service orchestrates the dispatcher, processor and their
// collaborators for the lifetime of the process.
type Service struct {
	Dispatcher *command.Dispatcher
	Processor  *processor.Processor
	Ingestor   *ingest.Ingestor
	Signer     *signature.Service
	Status     *devicestatus.MemoryStore
	Ledger     *ledger.SQLiteLedger

	transport   *mqtt.PahoClient
	audit       logging.LogStore
	bus         eventbus.EventBus
	sink        coremetrics.Sink
	tracker     liveness.Tracker
	log         logger.Logger
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	signer, err := signature.New(cfg.Signature.Secret)
	if err != nil {
		return nil, fmt.Errorf("signature service: %w", err)
	}
	led, err := ledger.NewSQLite(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	var sinks []coremetrics.Sink
	promEnabled := cfg.Metrics.PrometheusEnabled
	promPort := cfg.Metrics.PrometheusPort
	if promEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	var audit logging.LogStore
	switch cfg.Logging.Backend {
	case "sqlite":
		audit, err = logging.NewSQLiteStore(cfg.Logging.Path)
	default:
		audit, err = logging.NewJSONLStore(cfg.Logging.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}

	bus := eventbus.New()
	disp, err := command.New(client, logger.New("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	disp.SetBus(bus)
	disp.SetLogStore(audit)
	disp.SetTimeouts(
		time.Duration(cfg.Command.ApplyConfigTimeoutSeconds)*time.Second,
		time.Duration(cfg.Command.RestartTimeoutSeconds)*time.Second,
		time.Duration(cfg.Command.DefaultTimeoutSeconds)*time.Second,
	)

	ing, err := ingest.New(led, logger.New("ingest"))
	if err != nil {
		return nil, fmt.Errorf("ingestor: %w", err)
	}
	ing.SetSink(sink)

	status := devicestatus.NewMemoryStore()
	proc, err := processor.New(client, disp, ing, led, logger.New("processor"))
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	proc.SetBus(bus)

	tracker := liveness.Tracker{}
	if cfg.Liveness.OfflineThresholdMS > 0 {
		tracker.Threshold = time.Duration(cfg.Liveness.OfflineThresholdMS) * time.Millisecond
	}

	return &Service{
		Dispatcher:  disp,
		Processor:   proc,
		Ingestor:    ing,
		Signer:      signer,
		Status:      status,
		Ledger:      led,
		transport:   client,
		audit:       audit,
		bus:         bus,
		sink:        sink,
		tracker:     tracker,
		log:         logg,
		promEnabled: promEnabled,
		promPort:    promPort,
	}, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	devicestatus.StartCollector(ctx, s.bus, s.Status)
	if err := s.Processor.Start(); err != nil {
		return fmt.Errorf("processor start: %w", err)
	}
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, ":"+s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go s.livenessSweep(ctx)
	<-ctx.Done()
	return nil
}

// livenessSweep periodically re-evaluates every known device and
// records the judgment on the metric sinks.
func (s *Service) livenessSweep(ctx context.Context) {
	rec, ok := s.sink.(coremetrics.LivenessRecorder)
	if !ok {
		return
	}
	ticker := time.NewTicker(livenessSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, st := range s.Status.List(devicestatus.Filter{}) {
				snap := s.tracker.Evaluate(model.Device{ID: st.DeviceID, LastState: st.LastState})
				r := coremetrics.LivenessRecord{DeviceID: st.DeviceID, Offline: snap.Offline, Time: now}
				if snap.LastSeenMS != nil {
					r.LastSeenMS = *snap.LastSeenMS
				}
				if err := rec.RecordLiveness(r); err != nil {
					s.log.Warnf("record liveness: %v", err)
				}
			}
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.Processor.Close()
	s.transport.Close()
	s.bus.Close()
	var firstErr error
	if err := s.audit.Close(); err != nil {
		firstErr = err
	}
	if err := s.Ledger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
