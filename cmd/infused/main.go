// infused is the hosted Infuse device daemon: it assembles the task
// runner, TDF logger fabric, ePacket dispatcher and watchdog from one
// config record, then serves the read-only control plane over gRPC.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"infuse/internal/aead"
	"infuse/internal/config"
	"infuse/internal/controlplane"
	"infuse/internal/epacket"
	"infuse/internal/epoch"
	"infuse/internal/hostfeed"
	"infuse/internal/keystore"
	"infuse/internal/metrics"
	"infuse/internal/runner"
	"infuse/internal/taskadapter"
	"infuse/internal/tdf"
	"infuse/internal/transport/btadv"
	"infuse/internal/transport/epacketsink"
	"infuse/internal/transport/exfatlog"
	"infuse/internal/transport/memring"
	"infuse/internal/transport/serial"
	"infuse/internal/transport/udp"
	"infuse/internal/watchdog"
	"infuse/internal/zbus"
)

var (
	configPath  = flag.String("config", "infused.yaml", "device config file")
	grpcPort    = flag.Int("grpc-port", 9223, "control-plane gRPC port")
	metricsAddr = flag.String("metrics-addr", "", "promhttp listen address (empty disables)")
	udpPeer     = flag.String("udp-peer", "", "ePacket UDP peer host:port (empty disables the UDP transport)")
	ebpfFilter  = flag.Bool("ebpf-filter", false, "attach the eBPF ePacket prefilter to the UDP socket (Linux only)")
	serialPath  = flag.String("serial", "", "tty path for the serial ePacket transport (empty disables)")
	announce    = flag.String("announce", "", "UDP address for key-id advertisements (empty disables)")
	hostUptime  = flag.Bool("host-uptime", false, "tick with the machine's uptime instead of the process's")
)

func main() {
	flag.Parse()

	log.Printf("Infuse device daemon starting (config %s)...", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	deviceID, err := parseDeviceID(cfg.Device.ID)
	if err != nil {
		log.Fatalf("Invalid device id: %v", err)
	}

	keys, err := keystore.FromHex(cfg.AEAD.NetworkKeyHex, cfg.AEAD.DeviceKeyHex)
	if err != nil {
		log.Fatalf("Failed to load key material: %v", err)
	}

	cipher, err := aead.NewFactory().Resolve(cfg.AEAD.Algorithm)
	if err != nil {
		log.Fatalf("Failed to resolve AEAD algorithm: %v", err)
	}
	if !cipher.IsAvailable() {
		log.Fatalf("AEAD algorithm %q is not available in this build", cipher.Name())
	}
	log.Printf("AEAD algorithm: %s", cipher.Name())

	// Hosted builds trust the machine's NTP-synced wall clock as the
	// boot time reference; a real device would wait for GNSS/NTP.
	clock := epoch.New(nil)
	sinceEpoch := time.Now().Sub(epoch.Epoch2020) / time.Second
	clock.SetReference(epoch.SourceNTP, epoch.Instant{
		LocalTick: 0,
		EpochRef:  int64(sinceEpoch) * epoch.EpochHz,
	})

	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	dis := epacket.NewDispatcher(cipher, keys, 16, udp.MaxPayload, clock.NowSeconds)
	dis.SetMetrics(m)

	// Transports.
	if *udpPeer != "" {
		conn, err := udp.Dial("udp", *udpPeer, dis)
		if err != nil {
			log.Fatalf("Failed to open UDP transport: %v", err)
		}
		defer conn.Close()
		if *ebpfFilter {
			if err := conn.AttachFilter(); err != nil {
				log.Printf("Warning: eBPF prefilter not attached: %v", err)
			} else {
				log.Printf("eBPF ePacket prefilter attached to UDP socket")
			}
		}
		dis.RegisterInterface(conn)
		dis.NotifyState("udp", true)
		// UDP is duplex: hold RX armed for the daemon's lifetime.
		dis.ArmReceive("udp")
	}
	if *serialPath != "" {
		port, err := serial.Open("serial", *serialPath)
		if err != nil {
			log.Fatalf("Failed to open serial transport: %v", err)
		}
		defer port.Close()
		dis.RegisterInterface(port)
	}
	adv := btadv.NewSink("btadv")
	dis.RegisterInterface(adv)

	if *announce != "" {
		ann, err := udp.Dial("announce", *announce, dis)
		if err != nil {
			log.Fatalf("Failed to open announce socket: %v", err)
		}
		defer ann.Close()
		dis.RegisterInterface(ann)
		// Advertise the key identifiers once at boot so peers can pick
		// the right key before any authenticated exchange; the
		// key-announce schedule task repeats this periodically.
		if _, err := dis.SendKeyIDs("announce"); err != nil {
			log.Printf("Warning: boot key-id announcement failed: %v", err)
		}
	}

	dis.RegisterReceiveHandler(epacket.DefaultHandler(dis))

	// Logger fabric.
	router, closeLoggers, err := buildLoggers(cfg, dis, deviceID, m)
	if err != nil {
		log.Fatalf("Failed to build loggers: %v", err)
	}
	defer closeLoggers()

	bus := zbus.New()
	adapter := taskadapter.New(router, bus)

	// Schedule table and runner.
	rows, err := cfg.Rows()
	if err != nil {
		log.Fatalf("Failed to build schedule: %v", err)
	}
	deps := &taskDeps{
		adapter:  adapter,
		dis:      dis,
		clock:    clock,
		announce: *announce != "",
	}
	r := runner.New(runner.Config{
		Rows:      rows,
		TaskFuncs: builtinTasks(deps),
	}, bus)
	r.SetMetrics(m)

	feed := newFeed(clock, *hostUptime)
	deps.feed = feed
	r.StartAutoIterate(feed)
	defer r.StopAutoIterate()
	log.Printf("Task runner started: %d schedule rows", len(rows))

	// Watchdog: one channel for the tick loop heartbeat, fed from a
	// dedicated goroutine whose liveness tracks the process.
	wd := watchdog.New(cfg.Watchdog.HWTimeout, cfg.Watchdog.WarningMargin,
		func(channelID int) {
			m.WatchdogWarnings.WithLabelValues(fmt.Sprint(channelID)).Inc()
			log.Printf("Watchdog warning on channel %d", channelID)
		},
		func(reason watchdog.RebootReason) {
			m.WatchdogFatal.WithLabelValues(fmt.Sprint(reason.ExpiredChannel)).Inc()
			log.Fatalf("Watchdog fatal: channel %d (thread %s, uptime %ds)",
				reason.ExpiredChannel, reason.ThreadName, reason.UptimeS)
		},
		r.Uptime,
	)
	mainChan, feedPeriod, err := wd.Install("main")
	if err != nil {
		log.Fatalf("Failed to install watchdog channel: %v", err)
	}
	wd.Start()
	defer wd.Stop()
	go func() {
		ticker := time.NewTicker(feedPeriod / 2)
		defer ticker.Stop()
		for range ticker.C {
			wd.Feed(mainChan)
		}
	}()

	// Metrics endpoint.
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("Metrics listening on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("Warning: metrics server stopped: %v", err)
			}
		}()
	}

	// Control plane.
	grpcServer := grpc.NewServer()
	controlplane.RegisterControlPlaneServer(grpcServer, controlplane.NewServer(controlplane.Providers{
		DeviceID:   deviceID,
		DeviceName: cfg.Device.Name,
		Runner:     r,
		Router:     router,
		Dispatcher: dis,
		Clock:      clock,
		Gatherer:   reg,
	}))

	addr := fmt.Sprintf("0.0.0.0:%d", *grpcPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	log.Printf("Control plane gRPC server starting on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		grpcServer.GracefulStop()
	}()

	if err := grpcServer.Serve(listener); err != nil {
		log.Fatalf("Failed to serve: %v", err)
	}
	log.Println("Device daemon stopped")
}

// parseDeviceID decodes the configured 8-byte hex device identity.
func parseDeviceID(s string) ([8]byte, error) {
	var id [8]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != 8 {
		return id, fmt.Errorf("want 8 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// newFeed builds the tick source for StartAutoIterate.
func newFeed(clock *epoch.Clock, hostUptime bool) *hostfeed.Feed {
	opts := []hostfeed.Option{}
	if hostUptime {
		opts = append(opts, hostfeed.WithHostUptime())
	}
	return hostfeed.New(clock.NowSeconds, opts...)
}

// buildLoggers instantiates every configured TDF logger instance in
// loggers_mask bit order and returns the router plus a close-all
// function.
func buildLoggers(cfg *config.Config, dis *epacket.Dispatcher, deviceID [8]byte, m *metrics.Registry) (*tdf.Router, func(), error) {
	byBit := make(map[int]*tdf.Instance)
	maxBit := -1
	for _, lc := range cfg.Loggers {
		backend, err := buildBackend(lc, dis, deviceID)
		if err != nil {
			return nil, nil, err
		}
		inst := tdf.NewInstance(backend)
		inst.SetMetrics(m)
		if _, dup := byBit[lc.LoggersMaskBit]; dup {
			return nil, nil, fmt.Errorf("logger %s: duplicate loggers_mask_bit %d", lc.Name, lc.LoggersMaskBit)
		}
		byBit[lc.LoggersMaskBit] = inst
		if lc.LoggersMaskBit > maxBit {
			maxBit = lc.LoggersMaskBit
		}
		log.Printf("Logger %s: backend %s at loggers_mask bit %d", lc.Name, lc.Backend, lc.LoggersMaskBit)
	}

	instances := make([]*tdf.Instance, 0, maxBit+1)
	for bit := 0; bit <= maxBit; bit++ {
		inst, ok := byBit[bit]
		if !ok {
			return nil, nil, fmt.Errorf("loggers_mask bit %d has no logger instance", bit)
		}
		instances = append(instances, inst)
	}

	closeAll := func() {
		for _, inst := range instances {
			if err := inst.Close(); err != nil {
				log.Printf("Warning: closing logger %s: %v", inst.Name(), err)
			}
		}
	}
	return tdf.NewRouter(instances...), closeAll, nil
}

// buildBackend maps one config entry to a concrete tdf backend.
func buildBackend(lc config.LoggerConfig, dis *epacket.Dispatcher, deviceID [8]byte) (tdf.Backend, error) {
	switch lc.Backend {
	case "memring":
		return memring.New(lc.Name, 256, 1024, 4096), nil
	case "exfat":
		dir := lc.Path
		if dir == "" {
			dir = "/logs"
		}
		return exfatlog.Open(lc.Name, dir)
	case "epacket", "udp":
		return epacketsink.New(lc.Name, dis, "udp", lc.Addr, epacket.AuthDevice, deviceID, 256)
	case "serial":
		return epacketsink.New(lc.Name, dis, "serial", "", epacket.AuthDevice, deviceID, 128)
	case "btadv":
		return epacketsink.New(lc.Name, dis, "btadv", "", epacket.AuthNetwork, deviceID, 16)
	default:
		return nil, fmt.Errorf("logger %s: unknown backend %q", lc.Name, lc.Backend)
	}
}
