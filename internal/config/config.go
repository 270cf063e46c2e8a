package config

import (
	"fmt"
	"os"
	"strings"
)

// Config carries every environment-provided setting the control plane uses.
// Loaded once at startup and passed into constructors; nothing reads the
// environment after Load returns.
type Config struct {
	Addr string

	// Backend (Ollama-compatible) HTTP API. Defaults to the local daemon;
	// SelfHosted records whether the address was configured explicitly,
	// which is what gates egress provisioning.
	OllamaHost string
	SelfHosted bool

	// Egress provisioning targets. All three must be set for provisioning
	// to be enabled.
	SubnetID     string
	AllocationID string
	RouteTableID string

	// Fleet scaling targets.
	ClusterName          string
	ServiceName          string
	AutoScalingGroupName string

	// Lifecycle event stream. Disabled when no brokers are configured.
	KafkaBrokers []string
	KafkaTopic   string

	// Terminal run-report archive. Disabled when the bucket is empty.
	RunReportBucket string
	RunReportPrefix string

	LogLevel string
}

const (
	defaultAddr       = ":8090"
	defaultOllamaHost = "http://localhost:11434"
	defaultKafkaTopic = "controld.lifecycle"
	defaultLogLevel   = "info"
)

func Load() (Config, error) {
	ollamaHost := os.Getenv("OLLAMA_HOST")
	cfg := Config{
		Addr:                 getEnv("CONTROLD_ADDR", defaultAddr),
		OllamaHost:           strings.TrimSuffix(ollamaHost, "/"),
		SelfHosted:           ollamaHost != "",
		SubnetID:             os.Getenv("SUBNET_ID"),
		AllocationID:         os.Getenv("ALLOCATION_ID"),
		RouteTableID:         os.Getenv("ROUTE_TABLE_ID"),
		ClusterName:          os.Getenv("CLUSTER_NAME"),
		ServiceName:          os.Getenv("SERVICE_NAME"),
		AutoScalingGroupName: os.Getenv("AUTOSCALING_GROUP_NAME"),
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		RunReportBucket:      os.Getenv("RUN_REPORT_BUCKET"),
		RunReportPrefix:      os.Getenv("RUN_REPORT_PREFIX"),
		LogLevel:             getEnv("LOG_LEVEL", defaultLogLevel),
	}
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = defaultOllamaHost
	}
	if partial := cfg.egressPartial(); partial != "" {
		return Config{}, fmt.Errorf("egress provisioning misconfigured: %s unset while other network ids are set", partial)
	}
	return cfg, nil
}

// EgressEnabled reports whether a run must provision NAT egress before
// pulling. Deployments with direct egress leave the network ids unset.
func (c Config) EgressEnabled() bool {
	return c.SelfHosted && c.SubnetID != "" && c.AllocationID != "" && c.RouteTableID != ""
}

// FleetConfigured reports whether the scaling endpoints can operate.
func (c Config) FleetConfigured() bool {
	return c.ClusterName != "" && c.ServiceName != "" && c.AutoScalingGroupName != ""
}

// egressPartial returns the name of a missing network id when some but not
// all of them are set. A half-configured deployment would silently skip
// provisioning, so it is rejected at startup instead.
func (c Config) egressPartial() string {
	ids := map[string]string{
		"SUBNET_ID":      c.SubnetID,
		"ALLOCATION_ID":  c.AllocationID,
		"ROUTE_TABLE_ID": c.RouteTableID,
	}
	any := false
	for _, v := range ids {
		if v != "" {
			any = true
		}
	}
	if !any {
		return ""
	}
	for k, v := range ids {
		if v == "" {
			return k
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
