// Package capture records bridge datagrams in pcap format and reads them back.
//
// Frames are synthesised (Ethernet/IPv4/UDP) from the packet and addresses
// handed to the transport, so captures work without raw socket privileges
// and open directly in Wireshark.
package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/milight/internal/milight"
)

const snapLen = 65536

var zeroMAC = net.HardwareAddr{0, 0, 0, 0, 0, 0}

// Writer appends synthesised frames to a pcap stream.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	src    *net.UDPAddr
}

// NewWriter writes a pcap file header to w.
// src is recorded as the source of every frame.
func NewWriter(w io.Writer, src *net.UDPAddr) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	if src == nil {
		src = &net.UDPAddr{IP: net.IPv4zero, Port: milight.LocalPort}
	}
	cw := &Writer{w: pw, src: src}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw, nil
}

// Create opens path for writing, truncating it.
func Create(path string, src *net.UDPAddr) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, src)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Write records one datagram sent to dst at ts.
func (w *Writer) Write(ts time.Time, dst *net.UDPAddr, p milight.Packet) error {
	data, err := encodeFrame(w.src, dst, p)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

// Close closes the underlying file, if the writer owns one.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

func encodeFrame(src, dst *net.UDPAddr, p milight.Packet) ([]byte, error) {
	srcIP, dstIP := src.IP.To4(), dst.IP.To4()
	if srcIP == nil || dstIP == nil {
		return nil, fmt.Errorf("capture supports IPv4 only (%s -> %s)", src, dst)
	}

	eth := &layers.Ethernet{
		SrcMAC:       zeroMAC,
		DstMAC:       zeroMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p[:])); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Transport forwards to Next and records every datagram it handed over.
// Capture failures are logged and never fail the send.
type Transport struct {
	Next   milight.Transport
	Writer *Writer
	Now    func() time.Time
}

func (t *Transport) Send(dst *net.UDPAddr, p milight.Packet) error {
	if err := t.Next.Send(dst, p); err != nil {
		return err
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	if err := t.Writer.Write(now(), dst, p); err != nil {
		log.Warn().Err(err).Msg("Failed to record datagram")
	}
	return nil
}

// Record is one decoded datagram from a capture.
type Record struct {
	Timestamp time.Time
	Src       *net.UDPAddr
	Dst       *net.UDPAddr
	Packet    milight.Packet
}

// Commands lists the commands the record's opcode can stand for.
func (r Record) Commands() []milight.Command {
	return milight.Describe(r.Packet.Opcode())
}

// Read decodes every 3-byte UDP payload in a pcap stream.
// Other traffic in the capture is skipped.
func Read(r io.Reader) ([]Record, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	var records []Record
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, err
		}

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		ipLayer, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !ok {
			continue
		}
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) != len(milight.Packet{}) {
			continue
		}

		var p milight.Packet
		copy(p[:], udp.Payload)
		records = append(records, Record{
			Timestamp: ci.Timestamp,
			Src:       &net.UDPAddr{IP: ipLayer.SrcIP, Port: int(udp.SrcPort)},
			Dst:       &net.UDPAddr{IP: ipLayer.DstIP, Port: int(udp.DstPort)},
			Packet:    p,
		})
	}
	return records, nil
}

// ReadFile decodes a pcap file from disk.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
