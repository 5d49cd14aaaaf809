package app

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/milight/internal/bridge"
	"github.com/dokzlo13/milight/internal/capture"
	"github.com/dokzlo13/milight/internal/config"
	"github.com/dokzlo13/milight/internal/milight"
)

func TestServices_WiresLedgerAndCapture(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Bridge.Address = "192.168.0.230"
	cfg.Database.Path = filepath.Join(dir, "milight.db")
	cfg.Capture.Path = filepath.Join(dir, "bridge.pcap")

	var sent []milight.Packet
	transport := milight.TransportFunc(func(dst *net.UDPAddr, p milight.Packet) error {
		sent = append(sent, p)
		return nil
	})

	s, err := NewServicesWithTransport(cfg, transport)
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Controller.Invoke(context.Background(), bridge.Request{
		Group:  milight.Group1,
		Action: milight.NightMode,
		Source: "test",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent %d packets, want 2", len(sent))
	}

	entry, err := s.Ledger.Get(res.ID)
	if err != nil {
		t.Fatalf("ledger entry: %v", err)
	}
	if entry.Action != "night_mode" || entry.Group != 1 || len(entry.Opcodes) != 2 {
		t.Errorf("entry = %+v", entry)
	}
	if s.MQTT != nil || s.API != nil {
		t.Error("front ends should be disabled by default")
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	records, err := capture.ReadFile(cfg.Capture.Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("captured %d records, want 2", len(records))
	}
	if records[0].Packet != sent[0] || records[1].Packet != sent[1] {
		t.Errorf("captured %v, sent %v", records, sent)
	}
	if !records[0].Dst.IP.Equal(net.IPv4(192, 168, 0, 230)) {
		t.Errorf("dst = %v", records[0].Dst)
	}
}

func TestServices_LedgerDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.API.Enabled = true

	s, err := NewServicesWithTransport(cfg, milight.TransportFunc(func(*net.UDPAddr, milight.Packet) error { return nil }))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.DB != nil || s.Ledger != nil {
		t.Error("empty database path should disable the ledger")
	}
	if s.API == nil {
		t.Error("API should be built when enabled")
	}
}

func TestServices_InvalidBridge(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.Address = "not-an-ip"
	if _, err := NewServices(cfg); err == nil {
		t.Fatal("expected error for invalid bridge address")
	}
}

func TestServices_StartNothingToServe(t *testing.T) {
	cfg := config.Default()
	s, err := NewServicesWithTransport(cfg, milight.TransportFunc(func(*net.UDPAddr, milight.Packet) error { return nil }))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Start(context.Background(), func(error) {}); err == nil {
		t.Fatal("expected error with mqtt and api disabled")
	}
}
