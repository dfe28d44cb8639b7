package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"webkvm/config"
	"webkvm/sdriver"
	"webkvm/sdriver/dummy"
	sagent "webkvm/streamAgent"
	"webkvm/webservice"
)

func openDriver(cfg *config.Config) (sdriver.SDriver, error) {
	var driver sdriver.SDriver
	var err error
	switch cfg.Server.Driver {
	case "dummy":
		driver, err = dummy.New(cfg.Server.DriverOpt)
	default:
		return nil, fmt.Errorf("unsupported driver type: %s", cfg.Server.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize driver: %w", err)
	}
	return driver, nil
}

func main() {
	configPath := flag.String("config", "", "YAML configuration file; built-in defaults when empty")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	pin := flag.String("pin", "", "unlock PIN, overrides server.pin")
	noMDNS := flag.Bool("no-mdns", false, "do not advertise the server over mDNS")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *pin != "" {
		cfg.Server.PIN = *pin
	}
	if *noMDNS {
		cfg.Server.MDNS = false
	}
	lf := cfg.LoggerFactory(os.Stderr)
	logger := lf.NewLogger("main")

	driver, err := openDriver(cfg)
	if err != nil {
		log.Fatalf("Failed to open driver: %v", err)
	}
	defer driver.Stop()
	logger.Infof("driver %s: %+v", cfg.Server.Driver, driver.Capabilities())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := sagent.NewRegistry(ctx, driver, cfg, sagent.WithLoggerFactory(lf))
	go registry.LogStatus(ctx, cfg.Server.StatusLog)

	wm, err := webservice.New(cfg, driver, registry, lf)
	if err != nil {
		log.Fatalf("Failed to create web service: %v", err)
	}
	if err := wm.Serve(ctx); err != nil {
		logger.Errorf("server stopped: %v", err)
	}
	if err := registry.ShutdownAll(); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
}
