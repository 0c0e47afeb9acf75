package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	countsteps "github.com/murtazakamran18/count-steps"
	"github.com/murtazakamran18/count-steps/internal/api"
	"github.com/murtazakamran18/count-steps/internal/config"
	"github.com/murtazakamran18/count-steps/internal/db"
	"github.com/murtazakamran18/count-steps/internal/ingest"
	"github.com/murtazakamran18/count-steps/internal/monitoring"
	"github.com/murtazakamran18/count-steps/internal/mqtt"
	"github.com/murtazakamran18/count-steps/internal/netrecv"
	"github.com/murtazakamran18/count-steps/internal/serialmux"
	"github.com/murtazakamran18/count-steps/internal/steps"
	"github.com/murtazakamran18/count-steps/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	dbFile       = flag.String("db", "steps_data.db", "Path to the SQLite database file")
	source       = flag.String("source", "serial", "Sample source: serial, udp, mqtt, or disabled")
	port         = flag.String("port", "/dev/ttyUSB0", "Serial port the IMU bridge is attached to")
	serialBaud   = flag.Int("serial-baud", 115200, "Serial baud rate")
	udpListen    = flag.String("udp-listen", ":5005", "UDP listen address for sample datagrams")
	mqttBroker   = flag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	mqttTopic    = flag.String("mqtt-topic", "pedometer/raw", "MQTT topic carrying raw samples")
	mqttPublish  = flag.Bool("mqtt-publish", false, "Publish step and lifecycle events to the MQTT broker")
	configPath   = flag.String("config", "", "Path to a tuning config JSON file (built-in defaults when empty)")
	devMode      = flag.Bool("dev", false, "Dev mode: mock serial port replaying fixtures.txt, on-disk static files, debug logging")
	disableWalks = flag.Bool("disable-walks", false, "Disable the background walk worker")
)

// fixturesFile feeds the dev-mode mock serial port.
const fixturesFile = "fixtures.txt"

// walkModelVersion tags walks built by this binary's sessionization
// parameters, so retuning can rebuild them without clobbering history.
const walkModelVersion = "v1"

func main() {
	// Subcommands carry their own flag sets, so dispatch before flag.Parse.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrate(os.Args[2:])
			return
		case "walks":
			runWalks(os.Args[2:])
			return
		}
	}

	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *devMode {
		monitoring.SetDebug(true)
		db.DevMode = true
	}
	log.Printf("count-steps %s", version.String())

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *configPath)
	}

	classifier, err := steps.NewClassifier(tuning.ClassifierConfig())
	if err != nil {
		log.Fatalf("Invalid classifier config: %v", err)
	}

	database, err := db.NewDBWithMigrationCheck(*dbFile, true)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Step events go to MQTT only when asked; the pipeline treats a nil
	// publisher as "store only".
	var stepSink ingest.Publisher
	var publisher *mqtt.RealPublisher
	if *mqttPublish {
		publisher, err = mqtt.NewRealPublisher(*mqttBroker)
		if err != nil {
			log.Fatalf("Failed to connect MQTT publisher: %v", err)
		}
		defer publisher.Close()
		stepSink = publisher

		if err := publisher.PublishSystem(mqtt.SystemEvent{
			Timestamp: time.Now(),
			Event:     "startup",
			Retained:  true,
		}); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		}
	}

	pipeline := ingest.NewPipeline(classifier, database, stepSink, *source)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The API always gets a serial mux; non-serial sources use the disabled
	// one, which accepts commands and drops them.
	var m serialmux.SerialMuxInterface = serialmux.NewDisabledSerialMux()

	switch *source {
	case "serial":
		if *devMode {
			m = newFixtureMux(fixturesFile)
		} else {
			opts := serialmux.PortOptions{BaudRate: *serialBaud}
			m, err = serialmux.NewRealSerialMux(*port, opts)
			if err != nil {
				log.Fatalf("failed to open serial port %s: %v", *port, err)
			}
		}

		if err := m.Initialize(); err != nil {
			log.Fatalf("failed to initialize device: %v", err)
		}

		// run the monitor routine to manage IO on the serial port
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()

		// subscribe to the serial port messages and feed them to the pipeline
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, c := m.Subscribe()
			defer m.Unsubscribe(id)
			for {
				select {
				case payload := <-c:
					if err := pipeline.HandlePayload(payload); err != nil {
						log.Printf("error handling payload: %v", err)
					}
				case <-ctx.Done():
					log.Printf("subscribe routine terminated")
					return
				}
			}
		}()

	case "udp":
		listener := netrecv.NewUDPListener(netrecv.UDPListenerConfig{
			Address: *udpListen,
			Stats:   netrecv.NewPacketStats(),
			Handler: pipeline.HandlePayload,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP listener error: %v", err)
			}
			log.Print("UDP listener routine terminated")
		}()

	case "mqtt":
		sampleSource, err := mqtt.NewSampleSource(*mqttBroker, *mqttTopic)
		if err != nil {
			log.Fatalf("failed to connect MQTT sample source: %v", err)
		}
		defer sampleSource.Close()
		if err := sampleSource.Subscribe(pipeline.HandlePayload); err != nil {
			log.Fatalf("failed to subscribe to %s: %v", *mqttTopic, err)
		}
		log.Printf("Consuming samples from MQTT topic %s", *mqttTopic)

	case "disabled":
		log.Print("Sample source disabled; serving stored data only")

	default:
		log.Fatalf("unknown source %q: expected serial, udp, mqtt, or disabled", *source)
	}
	defer m.Close()

	if !*disableWalks {
		worker := db.NewWalkWorker(
			database,
			tuning.GetWalkGap().Seconds(),
			tuning.GetWalkMinSteps(),
			walkModelVersion,
		)
		worker.Interval = tuning.GetWalkWorkerInterval()
		worker.Window = tuning.GetWalkWindow()
		worker.Start()
		defer worker.Stop()
		log.Printf("Walk worker started (every %v over a %v window)", worker.Interval, worker.Window)
	}

	// Raw samples age out so the database stays bounded on small disks.
	// Retention 0 keeps everything.
	if days := tuning.GetSampleRetentionDays(); days > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(6 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					pruned, err := database.PruneSamples(days)
					if err != nil {
						log.Printf("sample prune failed: %v", err)
					} else if pruned > 0 {
						log.Printf("Pruned %d samples older than %d days", pruned, days)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
		log.Printf("Sample retention: %d days", days)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)
		m.AttachAdminRoutes(mux)

		apiServer := api.NewServer(m, database, pipeline)
		mux.Handle("/api/", http.StripPrefix("/api", apiServer.ServeMux()))
		apiServer.AttachDebugCharts(mux)

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status": "ok", "service": "count-steps", "version": %q, "timestamp": "%s"}`,
				version.Version, time.Now().UTC().Format(time.RFC3339))
		})

		// read static files from the embedded filesystem in production or from
		// the local ./static in dev for easier iteration without restarting the
		// server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticFS, err := fs.Sub(countsteps.StaticFiles, "static")
			if err != nil {
				log.Fatalf("failed to mount embedded static files: %v", err)
			}
			staticHandler = http.FileServer(http.FS(staticFS))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	if publisher != nil {
		if err := publisher.PublishSystem(mqtt.SystemEvent{
			Timestamp: time.Now(),
			Event:     "shutdown",
			Reason:    "signal",
			Retained:  true,
		}); err != nil {
			log.Printf("failed to publish shutdown event: %v", err)
		}
	}

	log.Printf("Graceful shutdown complete")
}

// newFixtureMux builds a mock serial mux that loops the fixture file at
// roughly the sample rate a real bridge produces.
func newFixtureMux(path string) serialmux.SerialMuxInterface {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to open fixtures file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		log.Fatalf("fixtures file %s is empty", path)
	}

	i := 0
	next := func() string {
		line := lines[i%len(lines)]
		i++
		return line
	}
	return serialmux.NewMockSerialMux(20*time.Millisecond, next)
}

func runMigrate(args []string) {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := flags.String("db", "steps_data.db", "Path to the SQLite database file")
	flags.Parse(args)

	db.RunMigrateCommand(flags.Args(), *dbPath)
}

func runWalks(args []string) {
	flags := flag.NewFlagSet("walks", flag.ExitOnError)
	dbPath := flags.String("db", "steps_data.db", "Path to the SQLite database file")
	cfgPath := flags.String("config", "", "Path to a tuning config JSON file")
	flags.Parse(args)

	tuning := config.EmptyTuningConfig()
	if *cfgPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*cfgPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	database, err := db.NewDBWithMigrationCheck(*dbPath, true)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	cli := db.NewWalksCLI(
		database,
		walkModelVersion,
		tuning.GetWalkGap().Seconds(),
		tuning.GetWalkMinSteps(),
		os.Stdout,
	)

	rest := flags.Args()
	if len(rest) < 1 {
		cli.PrintUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	switch rest[0] {
	case "analyze":
		_, err = cli.Analyze(ctx)
	case "delete":
		if len(rest) < 2 {
			log.Fatal("Usage: count-steps walks delete <model-version>")
		}
		_, err = cli.Delete(ctx, rest[1])
	case "migrate":
		if len(rest) < 3 {
			log.Fatal("Usage: count-steps walks migrate <from-version> <to-version>")
		}
		err = cli.Migrate(ctx, rest[1], rest[2])
	case "rebuild":
		err = cli.Rebuild(ctx)
	case "gaps":
		_, err = cli.Gaps(ctx)
	default:
		cli.PrintUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("walks %s failed: %v", rest[0], err)
	}
}
