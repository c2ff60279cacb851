package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/helixops/promoter/internal/models"
)

// Config is the construction-time configuration of the promoter service.
type Config struct {
	Addr        string
	DatabaseURL string

	KafkaBrokers []string
	KafkaTopic   string

	S3Bucket string
	S3Prefix string

	AuthSecret string

	Policies []models.ApprovalPolicy

	AutoRollback        bool
	HealthCheckTimeout  time.Duration
	HealthCheckInterval time.Duration
	RollbackTimeout     time.Duration
	HealthCheckURL      string
}

const (
	defaultAddr               = ":8070"
	defaultKafkaTopic         = "promotion-events"
	defaultHealthCheckTimeout = 30 * time.Second
	defaultHealthInterval     = 10 * time.Second
	defaultRollbackTimeout    = 60 * time.Second
)

// Load reads configuration from the environment. Approval policies come from
// PROMOTER_POLICIES (inline JSON array) or PROMOTER_POLICIES_FILE; at least
// one policy is required unless a database is configured to load them from.
func Load() (Config, error) {
	cfg := Config{
		Addr:                getEnv("PROMOTER_ADDR", defaultAddr),
		DatabaseURL:         firstNonEmpty(os.Getenv("PROMOTER_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaTopic:          getEnv("PROMOTER_KAFKA_TOPIC", defaultKafkaTopic),
		S3Bucket:            os.Getenv("PROMOTER_S3_BUCKET"),
		S3Prefix:            os.Getenv("PROMOTER_S3_PREFIX"),
		AuthSecret:          os.Getenv("PROMOTER_AUTH_SECRET"),
		AutoRollback:        getBool("PROMOTER_AUTO_ROLLBACK", true),
		HealthCheckTimeout:  getDuration("PROMOTER_HEALTHCHECK_TIMEOUT", defaultHealthCheckTimeout),
		HealthCheckInterval: getDuration("PROMOTER_HEALTHCHECK_INTERVAL", defaultHealthInterval),
		RollbackTimeout:     getDuration("PROMOTER_ROLLBACK_TIMEOUT", defaultRollbackTimeout),
		HealthCheckURL:      os.Getenv("PROMOTER_HEALTHCHECK_URL"),
	}
	if brokers := os.Getenv("PROMOTER_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	policies, err := loadPolicies()
	if err != nil {
		return Config{}, err
	}
	cfg.Policies = policies
	if len(cfg.Policies) == 0 && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("PROMOTER_POLICIES or PROMOTER_POLICIES_FILE required")
	}
	return cfg, nil
}

func loadPolicies() ([]models.ApprovalPolicy, error) {
	raw := os.Getenv("PROMOTER_POLICIES")
	if raw == "" {
		if file := os.Getenv("PROMOTER_POLICIES_FILE"); file != "" {
			b, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("read policies file: %w", err)
			}
			raw = string(b)
		}
	}
	if raw == "" {
		return nil, nil
	}
	var policies []models.ApprovalPolicy
	if err := json.Unmarshal([]byte(raw), &policies); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}
	for _, p := range policies {
		if !models.ValidStage(p.Stage) {
			return nil, fmt.Errorf("policy for unknown stage %q", p.Stage)
		}
		if p.RequiredApprovals < 0 {
			return nil, fmt.Errorf("policy for stage %s: negative requiredApprovals", p.Stage)
		}
	}
	return policies, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
