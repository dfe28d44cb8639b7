package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete webkvm configuration. Durations are written as Go
// duration strings ("80ms", "1.5s").
type Config struct {
	LogLevel string            `yaml:"log_level"` // trace, debug, info, warn, error
	LogScope map[string]string `yaml:"log_scopes"`
	Server   ServerConfig      `yaml:"server"`
	Capture  CaptureConfig     `yaml:"capture"`
	Tiers    TierConfig        `yaml:"tiers"`
	Session  SessionConfig     `yaml:"session"`
	Viewer   ViewerConfig      `yaml:"viewer"`
	WebRTC   WebRTCConfig      `yaml:"webrtc"`
}

type ServerConfig struct {
	Addr          string            `yaml:"addr"`
	PIN           string            `yaml:"pin"`
	JWTSecret     string            `yaml:"jwt_secret"` // random per start when empty
	TLSCert       string            `yaml:"tls_cert"`
	TLSKey        string            `yaml:"tls_key"`
	TLSSelfSigned bool              `yaml:"tls_self_signed"` // generate a certificate at start when no files are given
	MDNS          bool              `yaml:"mdns"`
	Hostname      string            `yaml:"hostname"`
	Driver        string            `yaml:"driver"` // only "dummy" ships with the server
	DriverOpt     map[string]string `yaml:"driver_options"`
	StatusLog     time.Duration     `yaml:"status_log_interval"`
}

type CaptureConfig struct {
	Interval       time.Duration `yaml:"interval"`
	DefaultMonitor int           `yaml:"default_monitor"`
}

// TierConfig drives the performance budget controller.
type TierConfig struct {
	UltraBudget         time.Duration `yaml:"ultra_budget"`
	StandardBudget      time.Duration `yaml:"standard_budget"`
	EmergencyBudget     time.Duration `yaml:"emergency_budget"`
	Cooldown            time.Duration `yaml:"cooldown"`
	ComfortRatio        float64       `yaml:"comfort_ratio"`
	DropRateDowngrade   float64       `yaml:"drop_rate_downgrade"`
	DropRateUpgrade     float64       `yaml:"drop_rate_upgrade"`
	UltraDownsample     int           `yaml:"ultra_downsample"`
	EmergencyDownsample int           `yaml:"emergency_downsample"`
	EmergencyFrameSkip  int           `yaml:"emergency_frame_skip"`
	FavorableCPUs       int           `yaml:"favorable_cpus"`
	Initial             string        `yaml:"initial"` // ultra, standard, emergency; empty picks from CPU count
}

type SessionConfig struct {
	OutboundQueueDepth   int           `yaml:"outbound_queue_depth"`
	ControlQueueDepth    int           `yaml:"control_queue_depth"`
	ShutdownGrace        time.Duration `yaml:"shutdown_grace"`
	MaxConsecutiveDeltas int           `yaml:"max_consecutive_deltas"`
	KeyframeRatio        float64       `yaml:"keyframe_ratio"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

type ViewerConfig struct {
	QueueDepthHigh     int           `yaml:"queue_depth_high"`
	QueueDepthMedium   int           `yaml:"queue_depth_medium"`
	QueueDepthLow      int           `yaml:"queue_depth_low"`
	PoorProcessing     time.Duration `yaml:"poor_processing"`
	GoodProcessing     time.Duration `yaml:"good_processing"`
	DropRateDowngrade  float64       `yaml:"drop_rate_downgrade"`
	DropRateUpgrade    float64       `yaml:"drop_rate_upgrade"`
	QualityInterval    time.Duration `yaml:"quality_interval"`
	PaintInterval      time.Duration `yaml:"paint_interval"`
	TargetFPS          float64       `yaml:"target_fps"`
	KeyframeRequestGap time.Duration `yaml:"keyframe_request_gap"`
}

type WebRTCConfig struct {
	Enabled     bool     `yaml:"enabled"`
	STUNServers []string `yaml:"stun_servers"`
	UDPPortMin  uint16   `yaml:"udp_port_min"`
	UDPPortMax  uint16   `yaml:"udp_port_max"`
}

// MinQualityInterval is the floor applied to ViewerConfig.QualityInterval.
const MinQualityInterval = time.Second

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:      ":8079",
			PIN:       "123456",
			MDNS:      true,
			Driver:    "dummy",
			StatusLog: 30 * time.Second,
		},
		Capture: CaptureConfig{
			Interval: 33 * time.Millisecond,
		},
		Tiers: TierConfig{
			UltraBudget:         80 * time.Millisecond,
			StandardBudget:      300 * time.Millisecond,
			EmergencyBudget:     800 * time.Millisecond,
			Cooldown:            1500 * time.Millisecond,
			ComfortRatio:        0.5,
			DropRateDowngrade:   0.05,
			DropRateUpgrade:     0.01,
			UltraDownsample:     1,
			EmergencyDownsample: 2,
			EmergencyFrameSkip:  2,
			FavorableCPUs:       4,
		},
		Session: SessionConfig{
			OutboundQueueDepth:   2,
			ControlQueueDepth:    16,
			ShutdownGrace:        500 * time.Millisecond,
			MaxConsecutiveDeltas: 120,
			KeyframeRatio:        0.5,
			WriteTimeout:         5 * time.Second,
		},
		Viewer: ViewerConfig{
			QueueDepthHigh:     3,
			QueueDepthMedium:   2,
			QueueDepthLow:      1,
			PoorProcessing:     50 * time.Millisecond,
			GoodProcessing:     16 * time.Millisecond,
			DropRateDowngrade:  0.05,
			DropRateUpgrade:    0.01,
			QualityInterval:    2 * time.Second,
			PaintInterval:      16 * time.Millisecond,
			TargetFPS:          30,
			KeyframeRequestGap: 500 * time.Millisecond,
		},
		WebRTC: WebRTCConfig{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and applies floors that are not configurable away.
func Validate(cfg *Config) error {
	t := cfg.Tiers
	if t.UltraBudget <= 0 || t.StandardBudget <= t.UltraBudget || t.EmergencyBudget <= t.StandardBudget {
		return errors.New("tier budgets must be positive and strictly increasing ultra < standard < emergency")
	}
	if t.Cooldown <= 0 {
		return errors.New("tiers.cooldown must be positive")
	}
	if t.ComfortRatio <= 0 || t.ComfortRatio > 1 {
		return fmt.Errorf("tiers.comfort_ratio %v out of (0,1]", t.ComfortRatio)
	}
	if t.DropRateUpgrade > t.DropRateDowngrade {
		return errors.New("tiers.drop_rate_upgrade must not exceed drop_rate_downgrade")
	}
	if t.UltraDownsample < 1 || t.EmergencyDownsample < 1 || t.EmergencyFrameSkip < 1 {
		return errors.New("downsample factors and frame skip must be >= 1")
	}
	switch t.Initial {
	case "", "ultra", "standard", "emergency":
	default:
		return fmt.Errorf("tiers.initial %q unknown", t.Initial)
	}

	s := cfg.Session
	if s.OutboundQueueDepth < 1 || s.ControlQueueDepth < 1 {
		return errors.New("session queue depths must be >= 1")
	}
	if s.ShutdownGrace <= 0 {
		return errors.New("session.shutdown_grace must be positive")
	}
	if s.MaxConsecutiveDeltas < 1 {
		return errors.New("session.max_consecutive_deltas must be >= 1")
	}
	if s.KeyframeRatio <= 0 {
		return errors.New("session.keyframe_ratio must be positive")
	}

	if cfg.Capture.Interval <= 0 {
		return errors.New("capture.interval must be positive")
	}

	v := &cfg.Viewer
	if v.QueueDepthLow < 1 || v.QueueDepthMedium < v.QueueDepthLow || v.QueueDepthHigh < v.QueueDepthMedium {
		return errors.New("viewer queue depths must satisfy 1 <= low <= medium <= high")
	}
	if v.GoodProcessing >= v.PoorProcessing {
		return errors.New("viewer.good_processing must be below poor_processing")
	}
	if v.TargetFPS <= 0 || v.PaintInterval <= 0 {
		return errors.New("viewer.target_fps and paint_interval must be positive")
	}
	if v.QualityInterval < MinQualityInterval {
		v.QualityInterval = MinQualityInterval
	}

	if cfg.WebRTC.UDPPortMax < cfg.WebRTC.UDPPortMin {
		return errors.New("webrtc udp port range is inverted")
	}
	return nil
}

// InitialTier resolves Tiers.Initial, falling back to the CPU heuristic.
func (t TierConfig) InitialTier() string {
	if t.Initial != "" {
		return t.Initial
	}
	if runtime.NumCPU() >= t.FavorableCPUs {
		return "ultra"
	}
	return "standard"
}
