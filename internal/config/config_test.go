package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelfleet/controld/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONTROLD_ADDR", "OLLAMA_HOST", "SUBNET_ID", "ALLOCATION_ID",
		"ROUTE_TABLE_ID", "CLUSTER_NAME", "SERVICE_NAME",
		"AUTOSCALING_GROUP_NAME", "KAFKA_BROKERS", "KAFKA_TOPIC",
		"RUN_REPORT_BUCKET", "RUN_REPORT_PREFIX", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, ":8090", cfg.Addr)
	require.Equal(t, "http://localhost:11434", cfg.OllamaHost)
	require.False(t, cfg.SelfHosted)
	require.False(t, cfg.EgressEnabled())
	require.False(t, cfg.FleetConfigured())
}

func TestEgressEnabledRequiresExplicitHostAndNetworkIDs(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_HOST", "http://backend:11434/")
	t.Setenv("SUBNET_ID", "subnet-0abc")
	t.Setenv("ALLOCATION_ID", "eipalloc-0abc")
	t.Setenv("ROUTE_TABLE_ID", "rtb-0abc")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.True(t, cfg.SelfHosted)
	require.Equal(t, "http://backend:11434", cfg.OllamaHost, "trailing slash trimmed")
	require.True(t, cfg.EgressEnabled())
}

func TestEgressDisabledWithoutNetworkIDs(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_HOST", "http://backend:11434")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.True(t, cfg.SelfHosted)
	require.False(t, cfg.EgressEnabled())
}

func TestPartialEgressConfigRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_HOST", "http://backend:11434")
	t.Setenv("SUBNET_ID", "subnet-0abc")

	_, err := config.Load()
	require.Error(t, err)
}

func TestKafkaBrokerList(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092 ,")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "controld.lifecycle", cfg.KafkaTopic)
}

func TestFleetConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLUSTER_NAME", "llm-cluster")
	t.Setenv("SERVICE_NAME", "ollama")
	t.Setenv("AUTOSCALING_GROUP_NAME", "llm-asg")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.True(t, cfg.FleetConfigured())
}
