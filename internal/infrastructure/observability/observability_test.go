package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_LevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(InitLogger("warn", &buf), "executor")

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "executor", entry["component"])
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestParseLogLevel_Default(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("nonsense"))
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
}

// sampleValue sums the counter or gauge samples of a family whose labels include want.
func sampleValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func TestMetrics_PayoutStarted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	done := m.PayoutStarted("bolt11")
	assert.Equal(t, float64(1), sampleValue(t, reg, "test_active_payouts", nil))

	done("failed", "PAYMENT_FAILED")
	assert.Equal(t, float64(0), sampleValue(t, reg, "test_active_payouts", nil))
	assert.Equal(t, float64(1), sampleValue(t, reg, "test_payouts_total", map[string]string{"destination": "bolt11", "status": "failed"}))
	assert.Equal(t, float64(1), sampleValue(t, reg, "test_payout_errors_total", map[string]string{"code": "PAYMENT_FAILED"}))
}

func TestMetrics_BreakerStateChange(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.BreakerStateChange("node", gobreaker.StateClosed, gobreaker.StateOpen)

	assert.Equal(t, float64(2), sampleValue(t, reg, "test_circuit_breaker_state", map[string]string{"name": "node"}))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.PayoutStarted("bolt11")("success", "")
		m.PayoutRejected("bolt11", "INVALID_AMOUNT")
		m.IdempotencyReplay()
		m.LimitRejected("hourly")
		m.L402Challenge()
		m.L402Payment("verified")
		m.BreakerStateChange("node", gobreaker.StateClosed, gobreaker.StateOpen)
	})
}
