// Package mqttbroker runs the in-process MQTT broker impersonated
// devices connect to: an anonymous-auth mochi-mqtt server with a hook
// that decrypts device traffic and republishes it on the event bus.
package mqttbroker

import (
	"context"
	"fmt"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"cloudcutter/internal/cctrerr"
	"cloudcutter/internal/device"
	"cloudcutter/internal/events"
	"cloudcutter/internal/logging"
	"cloudcutter/internal/services"
)

// Config configures the Server.
type Config struct {
	ListenAddr string
}

// Server is the virtual cloud's MQTT broker.
type Server struct {
	cfg     Config
	devices *device.Registry
	bus     *events.Bus
	log     *logging.Logger

	broker *mqtt.Server
}

// New creates a Server. Call Start to open the listener.
func New(cfg Config, devices *device.Registry, bus *events.Bus) *Server {
	return &Server{
		cfg:     cfg,
		devices: devices,
		bus:     bus,
		log:     logging.Default().WithComponent("mqtt"),
	}
}

func (s *Server) Name() string { return "mqtt" }

// Start brings up the broker: anonymous auth (devices never present
// credentials), a TCP listener, and the device-traffic hook.
func (s *Server) Start(ctx context.Context) error {
	s.broker = mqtt.New(nil)

	if err := s.broker.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("%w: install auth hook: %v", cctrerr.ErrConfiguration, err)
	}
	if err := s.broker.AddHook(&deviceHook{devices: s.devices, bus: s.bus, log: s.log}, nil); err != nil {
		return fmt.Errorf("%w: install device hook: %v", cctrerr.ErrConfiguration, err)
	}

	ln := listeners.NewTCP(listeners.Config{ID: "device", Address: s.cfg.ListenAddr})
	if err := s.broker.AddListener(ln); err != nil {
		return fmt.Errorf("%w: mqtt listen on %s: %v", cctrerr.ErrTransportIO, s.cfg.ListenAddr, err)
	}

	go func() {
		if err := s.broker.Serve(); err != nil {
			s.log.Error("mqtt broker stopped", "err", err)
		}
	}()

	s.log.Info("mqtt broker started", "addr", s.cfg.ListenAddr)
	return nil
}

// Stop shuts the broker down.
func (s *Server) Stop(ctx context.Context) error {
	if s.broker == nil {
		return nil
	}
	return s.broker.Close()
}

func (s *Server) Status() services.Status {
	return services.Status{Name: s.Name(), Running: s.broker != nil}
}

// Publish pushes a device-bound message, satisfying
// internal/impersonate.MQTTPublisher.
func (s *Server) Publish(topic string, payload []byte) error {
	if s.broker == nil {
		return fmt.Errorf("%w: mqtt broker not started", cctrerr.ErrConfiguration)
	}
	return s.broker.Publish(topic, payload, false, 0)
}
