// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads and validates the orchestration engine's
// configuration, generalizing api/integration-api/config/config.go's
// viper + validator trio from a server process to this client process.
package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is the full configuration surface of the orchestration engine.
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogFile  string `mapstructure:"log_file"`

	ClientID string `mapstructure:"client_id" validate:"required"`

	AskBaseURL        string `mapstructure:"ask_base_url" validate:"required"`
	TTSBaseURL        string `mapstructure:"tts_base_url" validate:"required"`
	ASRBaseURL        string `mapstructure:"asr_base_url" validate:"required"`
	TourBaseURL       string `mapstructure:"tour_base_url" validate:"required"`
	RecordingsBaseURL string `mapstructure:"recordings_base_url" validate:"required"`
	HealthBaseURL     string `mapstructure:"health_base_url" validate:"required"`
	EventsBaseURL     string `mapstructure:"events_base_url"`
	OfflineBaseURL    string `mapstructure:"offline_base_url"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// AudioOutput (C1)
	JitterPrebufferMs   int     `mapstructure:"jitter_prebuffer_ms"`
	JitterChunkMs       int     `mapstructure:"jitter_chunk_ms"`
	PreferredSampleRate int     `mapstructure:"preferred_sample_rate"`
	MaxHeaderBytes      int     `mapstructure:"max_header_bytes"`
	SanityZCRThreshold  float64 `mapstructure:"sanity_zcr_threshold"`
	SanityRMSFloor      float64 `mapstructure:"sanity_rms_floor"`
	SanityRMSCeil       float64 `mapstructure:"sanity_rms_ceil"`
	SanityPeakFloor     float64 `mapstructure:"sanity_peak_floor"`
	SanityPeakCeil      float64 `mapstructure:"sanity_peak_ceil"`

	// TtsQueue (C2)
	MaxPreGenerate int `mapstructure:"max_pre_generate"`

	// TourPipeline (C4)
	MaxPrefetchAhead int `mapstructure:"max_prefetch_ahead"`
	TailMaxChars     int `mapstructure:"tail_max_chars"`

	// RunCoordinator (C7)
	HighPriorityCooldown time.Duration `mapstructure:"high_priority_cooldown"`

	// InputIngest (C8)
	MinPressDuration   time.Duration `mapstructure:"min_press_duration"`
	WakeHoldWindow     time.Duration `mapstructure:"wake_hold_window"`
	WakeResumeDelay    time.Duration `mapstructure:"wake_resume_delay"`
	StopGraceNormal    time.Duration `mapstructure:"stop_grace_normal"`
	StopGraceContinuous time.Duration `mapstructure:"stop_grace_continuous"`

	// persisted settings store
	StoreDSN string `mapstructure:"store_dsn"`
}

// InitConfig wires viper the way the teacher does: "__" as the nested-key
// delimiter, an optional ENV_PATH override, defaults seeded before the
// config file/env vars are read.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("reading from environment variables: %v", err)
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "tourguide-client")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("CLIENT_ID", "")

	v.SetDefault("ASK_BASE_URL", "http://localhost:8080")
	v.SetDefault("TTS_BASE_URL", "http://localhost:8080")
	v.SetDefault("ASR_BASE_URL", "http://localhost:8080")
	v.SetDefault("TOUR_BASE_URL", "http://localhost:8080")
	v.SetDefault("RECORDINGS_BASE_URL", "http://localhost:8080")
	v.SetDefault("HEALTH_BASE_URL", "http://localhost:8080")
	v.SetDefault("EVENTS_BASE_URL", "")
	v.SetDefault("OFFLINE_BASE_URL", "http://localhost:8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	v.SetDefault("JITTER_PREBUFFER_MS", 250)
	v.SetDefault("JITTER_CHUNK_MS", 120)
	v.SetDefault("PREFERRED_SAMPLE_RATE", 16000)
	v.SetDefault("MAX_HEADER_BYTES", 65536)
	v.SetDefault("SANITY_ZCR_THRESHOLD", 0.35)
	v.SetDefault("SANITY_RMS_FLOOR", 0.002)
	v.SetDefault("SANITY_RMS_CEIL", 0.20)
	v.SetDefault("SANITY_PEAK_FLOOR", 0.02)
	v.SetDefault("SANITY_PEAK_CEIL", 0.98)

	v.SetDefault("MAX_PRE_GENERATE", 2)

	v.SetDefault("MAX_PREFETCH_AHEAD", 1)
	v.SetDefault("TAIL_MAX_CHARS", 80)

	v.SetDefault("HIGH_PRIORITY_COOLDOWN", "4s")

	v.SetDefault("MIN_PRESS_DURATION", "900ms")
	v.SetDefault("WAKE_HOLD_WINDOW", "8s")
	v.SetDefault("WAKE_RESUME_DELAY", "1.2s")
	v.SetDefault("STOP_GRACE_NORMAL", "8s")
	v.SetDefault("STOP_GRACE_CONTINUOUS", "2s")

	v.SetDefault("STORE_DSN", "tourguide.sqlite")
}

// GetApplicationConfig unmarshals and validates the AppConfig, matching
// api/integration-api/config/config.go's GetApplicationConfig.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &cfg, nil
}
