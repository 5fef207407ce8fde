// Package netbypass installs temporary host routes so traffic to the
// backup destination skips an active VPN tunnel. Route changes go through
// pkexec, scoped by a polkit rule to the ip command for one account; every
// installed route is removed exactly once before the run ends.
package netbypass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"

	"github.com/ivar/backstop/internal/sysexec"
)

// ErrNoGateway means every default route runs through the tunnel, so
// there is nothing to bypass with.
var ErrNoGateway = errors.New("no non-tunnel default gateway")

// DefaultRoute is one IPv4 default-route entry: outbound interface name
// and gateway address.
type DefaultRoute struct {
	Ifname  string
	Gateway string
}

// RouteSource reads the default-route table.
type RouteSource interface {
	DefaultRoutes() ([]DefaultRoute, error)
}

// NetlinkRoutes is the RouteSource backed by the kernel route table.
type NetlinkRoutes struct{}

func (NetlinkRoutes) DefaultRoutes() ([]DefaultRoute, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	var out []DefaultRoute
	for _, r := range routes {
		if r.Dst != nil || r.Gw == nil {
			continue
		}
		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			continue
		}
		out = append(out, DefaultRoute{Ifname: link.Attrs().Name, Gateway: r.Gw.String()})
	}
	return out, nil
}

// Resolver is the slice of net.Resolver this package uses.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Manager detects tunnels and installs bypass routes.
type Manager struct {
	// RouteSource and Resolver default to the kernel route table and the
	// system resolver; tests swap in fixtures.
	RouteSource RouteSource
	Resolver    Resolver

	logger  zerolog.Logger
	runner  sysexec.Runner
	pattern *regexp.Regexp
	hosts   []string
}

// NewManager creates a Manager. pattern matches tunnel interface names;
// hosts are the endpoints whose addresses get bypass routes.
func NewManager(logger zerolog.Logger, runner sysexec.Runner, pattern string, hosts []string) (*Manager, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("tunnel pattern %q: %w", pattern, err)
	}
	return &Manager{
		RouteSource: NetlinkRoutes{},
		Resolver:    net.DefaultResolver,
		logger:      logger.With().Str("component", "netbypass").Logger(),
		runner:      runner,
		pattern:     re,
		hosts:       hosts,
	}, nil
}

// TunnelActive reports whether a default route's interface matches the
// tunnel pattern.
func (m *Manager) TunnelActive() (bool, error) {
	routes, err := m.RouteSource.DefaultRoutes()
	if err != nil {
		return false, err
	}
	for _, r := range routes {
		if m.pattern.MatchString(r.Ifname) {
			return true, nil
		}
	}
	return false, nil
}

// NonTunnelGateway returns the gateway and interface of the first default
// route that does not run through a tunnel.
func (m *Manager) NonTunnelGateway() (gateway, ifname string, err error) {
	routes, err := m.RouteSource.DefaultRoutes()
	if err != nil {
		return "", "", err
	}
	for _, r := range routes {
		if !m.pattern.MatchString(r.Ifname) {
			return r.Gateway, r.Ifname, nil
		}
	}
	return "", "", ErrNoGateway
}

// ResolveTargets resolves every host to its IPv4 addresses through the
// system resolver and coalesces them into one sorted set. Hosts that fail
// to resolve are skipped with a warning.
func (m *Manager) ResolveTargets(ctx context.Context, hosts []string) []string {
	set := make(map[string]struct{})
	for _, host := range hosts {
		ips, err := m.Resolver.LookupIP(ctx, "ip4", host)
		if err != nil {
			m.logger.Warn().Str("host", host).Err(err).Msg("bypass target did not resolve, skipping")
			continue
		}
		for _, ip := range ips {
			set[ip.String()] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Engage installs one /32 route per bypass target when a tunnel owns the
// default route. Setup trouble never fails the run: the caller proceeds
// through the tunnel and downstream calls surface any breakage. The
// returned handle removes whatever was installed; callers defer Release.
func (m *Manager) Engage(ctx context.Context) *Bypass {
	b := &Bypass{logger: m.logger, runner: m.runner}

	active, err := m.TunnelActive()
	if err != nil {
		m.logger.Warn().Err(err).Msg("cannot inspect route table, proceeding without bypass")
		return b
	}
	if !active {
		m.logger.Debug().Msg("no tunnel on the default route, bypass not needed")
		return b
	}
	m.describeWireGuard()

	gateway, ifname, err := m.NonTunnelGateway()
	if err != nil {
		m.logger.Warn().Err(err).Msg("tunnel active but no bypass gateway, proceeding through tunnel")
		return b
	}

	addrs := m.ResolveTargets(ctx, m.hosts)
	if len(addrs) == 0 {
		m.logger.Warn().Msg("no bypass targets resolved, proceeding through tunnel")
		return b
	}

	for _, addr := range addrs {
		err := m.runner.Run(ctx, sysexec.Cmd{
			Name: "pkexec",
			Args: []string{"ip", "route", "add", addr + "/32", "via", gateway, "dev", ifname},
		})
		if err != nil {
			m.logger.Warn().Str("addr", addr).Err(err).Msg("route add failed, skipping")
			continue
		}
		b.routes = append(b.routes, route{addr: addr, gateway: gateway, ifname: ifname})
	}

	if len(b.routes) == 0 {
		m.logger.Warn().Msg("no bypass routes installed, proceeding through tunnel")
		return b
	}
	m.logger.Info().
		Int("routes", len(b.routes)).
		Str("gateway", gateway).
		Str("interface", ifname).
		Msg("vpn bypass engaged")
	return b
}

// describeWireGuard logs what the kernel knows about active WireGuard
// devices. Purely informational; hosts without WireGuard land in the
// debug log.
func (m *Manager) describeWireGuard() {
	client, err := wgctrl.New()
	if err != nil {
		m.logger.Debug().Err(err).Msg("wireguard control unavailable")
		return
	}
	defer client.Close()

	devices, err := client.Devices()
	if err != nil {
		m.logger.Debug().Err(err).Msg("wireguard device listing failed")
		return
	}
	for _, dev := range devices {
		var last time.Time
		for _, peer := range dev.Peers {
			if peer.LastHandshakeTime.After(last) {
				last = peer.LastHandshakeTime
			}
		}
		m.logger.Info().
			Str("device", dev.Name).
			Int("peers", len(dev.Peers)).
			Time("last_handshake", last).
			Msg("active wireguard tunnel")
	}
}

type route struct {
	addr    string
	gateway string
	ifname  string
}

// Bypass is the handle for installed routes. An empty handle is valid and
// its Release is a no-op.
type Bypass struct {
	logger zerolog.Logger
	runner sysexec.Runner
	routes []route
	once   sync.Once
}

// Routes returns how many routes this handle owns.
func (b *Bypass) Routes() int {
	return len(b.routes)
}

// Release removes every route installed by Engage. It runs at most once,
// swallows individual removal failures, and deliberately ignores the run
// context: teardown must still happen after the run is cancelled.
func (b *Bypass) Release() {
	b.once.Do(func() {
		for _, r := range b.routes {
			err := b.runner.Run(context.Background(), sysexec.Cmd{
				Name: "pkexec",
				Args: []string{"ip", "route", "del", r.addr + "/32", "via", r.gateway, "dev", r.ifname},
			})
			if err != nil {
				b.logger.Warn().Str("addr", r.addr).Err(err).Msg("route removal failed")
			}
		}
		if len(b.routes) > 0 {
			b.logger.Info().Int("routes", len(b.routes)).Msg("vpn bypass released")
		}
	})
}
