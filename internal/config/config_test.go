package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MARKET_WALLET_ADDRESS", "market-wallet")
	t.Setenv("SETTLEMENT_CLIENT_ID", "settlement-account")
	t.Setenv("MERCHANTS", "merchant-1:client-1, merchant-2:client-2")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 20, cfg.MaxTransfersPerTransaction)
	assert.Equal(t, 30*time.Second, cfg.TransferToMarketInterval)
	assert.Equal(t, time.Minute, cfg.ExchangeAttemptInterval)
	assert.Equal(t, 10*time.Minute, cfg.ReconciliationGrace)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RabbitMQURL)

	require.Len(t, cfg.Catalog.Merchants, 2)
	assert.Equal(t, Merchant{ID: "merchant-2", ClientID: "client-2"}, cfg.Catalog.Merchants[1])
	assert.Contains(t, cfg.Catalog.Assets, Asset{ID: "USDT", Accuracy: 6})
	assert.Contains(t, cfg.Catalog.AssetPairs, AssetPair{ID: "USDTUSD", BaseAssetID: "USDT", QuotingAssetID: "USD", Accuracy: 4})
	assert.Equal(t, []string{"USD"}, cfg.Catalog.SettlementAssets)
	assert.Equal(t, "0.99", cfg.Simulator.Prices["USDTUSD"].String())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SETTLEMENT_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("MIN_AMOUNTS", "USDT:1,BTC:0.0001")
	t.Setenv("MAX_TRANSFERS_PER_TX", "5")
	t.Setenv("EXCHANGE_ATTEMPT_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "0.0001", cfg.Catalog.MinAmounts["BTC"].String())
	assert.Equal(t, 5, cfg.MaxTransfersPerTransaction)
	assert.Equal(t, 30*time.Second, cfg.ExchangeAttemptInterval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing market wallet", map[string]string{"MARKET_WALLET_ADDRESS": " "}},
		{"missing settlement client", map[string]string{"SETTLEMENT_CLIENT_ID": ""}},
		{"missing merchants", map[string]string{"MERCHANTS": ""}},
		{"bad duration", map[string]string{"EXCHANGE_INTERVAL": "soon"}},
		{"bad asset", map[string]string{"ASSETS": "USDT"}},
		{"bad accuracy", map[string]string{"ASSETS": "USDT:-1"}},
		{"bad pair", map[string]string{"ASSET_PAIRS": "USDTUSD:USDT"}},
		{"bad amount", map[string]string{"MIN_AMOUNTS": "USDT:lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
