// Package discovery finds Infuse devices on the local network two
// ways: passively, by listening for the unencrypted key-identifier
// advertisements every device emits at boot, and actively, by
// sweeping a subnet for control-plane gRPC endpoints with a
// bounded-concurrency semaphore, each probe dialing with a per-host
// timeout.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"infuse/internal/controlplane"
	"infuse/internal/keyid"
)

// Result describes one probed host.
type Result struct {
	Address    string `json:"address"`
	IPAddress  string `json:"ip_address"`
	Port       int    `json:"port"`
	DeviceName string `json:"device_name"`
	DeviceID   string `json:"device_id"`
	EpochSrc   string `json:"epoch_source"`
	LatencyMs  int64  `json:"latency_ms"`
	Responding bool   `json:"responding"`
	Error      string `json:"error,omitempty"`
}

// Config holds sweep parameters.
type Config struct {
	Subnet          string        `json:"subnet"` // CIDR, empty = auto-detect local /24
	Port            int           `json:"port"`
	Timeout         time.Duration `json:"timeout"`
	ConcurrentScans int           `json:"concurrent_scans"`
	SkipLocalhost   bool          `json:"skip_localhost"`
}

// NewConfig returns the default sweep configuration.
func NewConfig() Config {
	return Config{
		Port:            9223,
		Timeout:         2 * time.Second,
		ConcurrentScans: 20,
	}
}

// Discover sweeps the configured subnet for device control planes.
func Discover(cfg Config) ([]Result, error) {
	if cfg.Subnet == "" {
		subnet, err := localSubnet()
		if err != nil {
			return nil, fmt.Errorf("discovery: determine local subnet: %w", err)
		}
		cfg.Subnet = subnet
	}
	ip, ipnet, err := net.ParseCIDR(cfg.Subnet)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid subnet %s: %w", cfg.Subnet, err)
	}
	if cfg.ConcurrentScans <= 0 {
		cfg.ConcurrentScans = 20
	}

	var ips []string
	for ip := ip.Mask(ipnet.Mask); ipnet.Contains(ip); incrementIP(ip) {
		ips = append(ips, ip.String())
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, cfg.ConcurrentScans)
	results := make(chan Result, len(ips)+1)

	if !cfg.SkipLocalhost {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- probe("127.0.0.1", cfg.Port, cfg.Timeout)
		}()
	}

	for _, ipStr := range ips {
		if isLocalIP(ipStr) {
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(ip string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results <- probe(ip, cfg.Port, cfg.Timeout)
		}(ipStr)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var discoveries []Result
	for r := range results {
		discoveries = append(discoveries, r)
	}
	return discoveries, nil
}

// probe dials one host's control plane and asks for its status.
func probe(ip string, port int, timeout time.Duration) Result {
	start := time.Now()
	address := fmt.Sprintf("%s:%d", ip, port)
	result := Result{Address: address, IPAddress: ip, Port: port}

	client, err := controlplane.Dial(address)
	if err != nil {
		result.Error = fmt.Sprintf("dial failed: %v", err)
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	st, err := client.GetStatus(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("status failed: %v", err)
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	result.Responding = true
	result.DeviceName = st.DeviceName
	result.DeviceID = st.DeviceID
	result.EpochSrc = st.EpochSource
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

// FindBest selects the preferred device from a sweep: the responding
// host with the lowest latency; on equal latency the earlier result
// wins.
func FindBest(discoveries []Result) *Result {
	var best *Result
	for i := range discoveries {
		r := &discoveries[i]
		if !r.Responding {
			continue
		}
		if best == nil || r.LatencyMs < best.LatencyMs {
			best = r
		}
	}
	return best
}

// localSubnet assumes a /24 around the first up, non-loopback IPv4
// interface.
func localSubnet() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.To4() == nil {
				continue
			}
			parts := strings.Split(ip.String(), ".")
			if len(parts) == 4 {
				return fmt.Sprintf("%s.%s.%s.0/24", parts[0], parts[1], parts[2]), nil
			}
		}
	}
	return "", fmt.Errorf("no suitable network interface found")
}

func incrementIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

func isLocalIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ifaceIP net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ifaceIP = v.IP
			case *net.IPAddr:
				ifaceIP = v.IP
			}
			if ifaceIP != nil && ifaceIP.Equal(ip) {
				return true
			}
		}
	}
	return false
}

// Announcement is one received key-identifier advertisement: the
// 6-byte bundle SendKeyIDs emits, tagged with its source address.
type Announcement struct {
	Addr         string
	NetworkKeyID keyid.ID
	DeviceKeyID  keyid.ID
	ReceivedAt   time.Time
}

// ListenAnnouncements binds a UDP listener on port and invokes fn for
// every well-formed key-id advertisement until ctx is done. Frames of
// any other length are ignored; the advertisement is unencrypted by
// design (it exists so peers can pick the right key before any
// authenticated exchange).
func ListenAnnouncements(ctx context.Context, port int, fn func(Announcement)) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("discovery: listen announcements: %w", err)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discovery: read announcement: %w", err)
		}
		if n != 6 {
			continue
		}
		var netID, devID [3]byte
		copy(netID[:], buf[0:3])
		copy(devID[:], buf[3:6])
		fn(Announcement{
			Addr:         src.String(),
			NetworkKeyID: keyid.Decode3(netID),
			DeviceKeyID:  keyid.Decode3(devID),
			ReceivedAt:   time.Now(),
		})
	}
}
