package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webkvm/config"
	"webkvm/viewer"
)

func main() {
	server := flag.String("server", "", "server base URL, e.g. http://host:8079; discovered over mDNS when empty")
	configPath := flag.String("config", "", "YAML configuration file for the viewer section")
	pin := flag.String("pin", "", "unlock PIN")
	monitor := flag.Int("monitor", 0, "monitor to stream")
	codec := flag.String("codec", "auto", "stream format: auto, zcpy, rle, i420, vp8")
	adaptive := flag.Bool("adaptive", true, "let the server adapt the tier below the requested quality")
	useWebRTC := flag.Bool("webrtc", false, "move frames to a WebRTC data channel once connected")
	record := flag.String("record", "", "write rendered frames to this MJPEG .avi file")
	snapshot := flag.String("snapshot", "", "write the last rendered frame to this PNG file on exit")
	duration := flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	discover := flag.Bool("discover", false, "list servers on the local network and exit")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	lf := cfg.LoggerFactory(os.Stderr)
	logger := lf.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if *discover || *server == "" {
		servers, err := viewer.Discover(ctx, 3*time.Second)
		if err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
		for _, s := range servers {
			fmt.Printf("%s\t%s\t%v\n", s.Instance, s.BaseURL(), s.Text)
		}
		if *discover {
			return
		}
		if len(servers) == 0 {
			log.Fatalf("No server found; pass -server")
		}
		*server = servers[0].BaseURL()
		logger.Infof("using %s (%s)", servers[0].Instance, *server)
	}

	var token string
	if *pin != "" {
		var err error
		if token, err = viewer.Unlock(ctx, *server, *pin); err != nil {
			log.Fatalf("Unlock failed: %v", err)
		}
	}

	snap := &viewer.SnapshotPainter{}
	painters := viewer.MultiPainter{snap}
	var recorder *viewer.RecordPainter
	if *record != "" {
		recorder = viewer.NewRecordPainter(*record, int(cfg.Viewer.TargetFPS), 0)
		painters = append(painters, recorder)
	}

	client, err := viewer.Dial(ctx, *server, cfg.Viewer, viewer.Options{
		Monitor:  *monitor,
		Codec:    *codec,
		Token:    token,
		Adaptive: *adaptive,
		WebRTC:   *useWebRTC,
	}, painters, lf)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	runErr := client.Run(ctx)

	st := client.Stats()
	logger.Infof("rendered %d, dropped %d, stale %d, decode errors %d, avg %v, quality %s, tier %s",
		st.Rendered, st.Dropped, st.Stale, st.DecodeErrors, st.AvgProcessing(), st.Level, st.Tier)
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Errorf("recording: %v", err)
		}
	}
	if *snapshot != "" {
		if err := snap.WritePNG(*snapshot); err != nil {
			logger.Errorf("snapshot: %v", err)
		}
	}
	if runErr != nil {
		log.Fatalf("Connection lost: %v", runErr)
	}
}
