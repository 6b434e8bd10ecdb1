package esp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// defaultDiscoveryWindow is how long replies are collected per round.
	defaultDiscoveryWindow = 2 * time.Second

	// defaultDiscoveryPort is the UDP port nodes listen and reply on.
	defaultDiscoveryPort = 4210

	// discoverRepeats is how many DISCOVER datagrams start each round.
	discoverRepeats = 2

	// datagramSize bounds a single announcement.
	datagramSize = 512
)

// DiscoveryConfig holds UDP discovery settings.
type DiscoveryConfig struct {
	// BroadcastAddress is where DISCOVER is sent, e.g. 192.168.0.255.
	BroadcastAddress string

	// Port is the node discovery port. Default: 4210.
	Port int

	// ListenPort is the local port replies arrive on. Nodes answer on 4210,
	// so production uses the same value as Port; 0 picks an ephemeral port.
	ListenPort int

	// Window is how long replies are collected. Default: 2 seconds.
	Window time.Duration
}

// Discoverer broadcasts DISCOVER and collects node announcements.
type Discoverer struct {
	cfg    DiscoveryConfig
	logger Logger
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(cfg DiscoveryConfig) *Discoverer {
	if cfg.Port <= 0 {
		cfg.Port = defaultDiscoveryPort
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultDiscoveryWindow
	}
	return &Discoverer{cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the discoverer.
func (d *Discoverer) SetLogger(logger Logger) {
	d.logger = logger
}

// Discover runs one broadcast round.
//
// It sends DISCOVER, then collects replies until the window closes or ctx
// is cancelled. Malformed replies (including the echo of our own broadcast)
// are skipped. Replies from the same address are merged.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - []Announcement: One entry per replying address, in arrival order
//   - error: If the socket cannot be opened or the broadcast cannot be sent
func (d *Discoverer) Discover(ctx context.Context) ([]Announcement, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}

	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(d.cfg.ListenPort)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening discovery socket: %w", ErrTransport, err)
	}
	defer pc.Close()

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(d.cfg.BroadcastAddress, strconv.Itoa(d.cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address: %w", err)
	}

	for i := 0; i < discoverRepeats; i++ {
		if _, err := pc.WriteTo([]byte(DiscoverToken), dst); err != nil {
			return nil, fmt.Errorf("%w: sending %s: %w", ErrTransport, DiscoverToken, err)
		}
	}

	deadline := time.Now().Add(d.cfg.Window)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := pc.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	// Unblock ReadFrom on cancellation.
	stop := context.AfterFunc(ctx, func() {
		pc.SetReadDeadline(time.Now()) //nolint:errcheck // Best effort wakeup
	})
	defer stop()

	var (
		order []string
		byIP  = make(map[string]*Announcement)
		buf   = make([]byte, datagramSize)
	)

	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return nil, fmt.Errorf("%w: reading replies: %w", ErrTransport, err)
		}

		udp, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}

		ids, err := ParseAnnouncement(buf[:n])
		if err != nil {
			d.logger.Debug("ignoring discovery datagram", "from", from.String(), "error", err)
			continue
		}

		ip := udp.IP.String()
		a, seen := byIP[ip]
		if !seen {
			a = &Announcement{Address: ip}
			byIP[ip] = a
			order = append(order, ip)
		}
		a.SensorIDs = mergeIDs(a.SensorIDs, ids)
	}

	out := make([]Announcement, 0, len(order))
	for _, ip := range order {
		out = append(out, *byIP[ip])
	}
	return out, nil
}

func mergeIDs(have, add []int) []int {
	for _, id := range add {
		dup := false
		for _, h := range have {
			if h == id {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, id)
		}
	}
	return have
}
