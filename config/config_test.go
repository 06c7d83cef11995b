package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/defibridge/bridgedata/etherman"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultConfig(t *testing.T) {
	cfg, err := LoadFile(nil, "")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	require.Equal(t, etherman.LatestBlock, cfg.Etherman.BlockFinality)
	require.Equal(t, uint64(1337), cfg.Etherman.ChainID)
	require.Equal(t, uint64(32), cfg.EventIndex.InteractionsPerBatch)
	require.Equal(t, 30*time.Second, cfg.EventIndex.FetchTimeout.Duration)
	require.Equal(t, time.Second, cfg.Simulated.ClockTick.Duration)
	require.Equal(t, "http://localhost:8080", cfg.EventIndex.IndexerURL)
	require.Equal(t, "/tmp/bridgedata/registry.sqlite", cfg.Registry.DBPath)
	require.Equal(t, 30*time.Second, cfg.Lifecycle.RefreshTimeout.Duration)
	require.Equal(t, time.Minute, cfg.AutoFinaliser.Interval.Duration)
	require.Equal(t, -1, cfg.AutoFinaliser.MaxRetryAttemptsAfterError)
	require.Equal(t, uint64(80000), cfg.Ledger.GasOffset)
	require.Equal(t, "/tmp/bridgedata/ethtxmanager.sqlite", cfg.Ledger.EthTxManager.StoragePath)
	require.Len(t, cfg.Ledger.EthTxManager.PrivateKeys, 1)
	require.Equal(t, "/app/keystore/sender.keystore", cfg.Ledger.EthTxManager.PrivateKeys[0].Path)
	require.Equal(t, 5576, cfg.RPC.Port)
	require.Empty(t, cfg.Tranches)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	custom := `
DispatcherAddr = "0x00000000000000000000000000000000000000d1"
PathRWData = "/data"

[[Tranches]]
  Address = "0x00000000000000000000000000000000000000a5"
  MarketsTTL = "5m"
  [[Tranches.Terms]]
    AssetID = 1
    Asset = "0x00000000000000000000000000000000000000e2"
    Expiry = 1700000000
    RateBps = 500
`
	cfg, err := LoadFile([]FileData{{Name: "custom", Content: custom}}, "")
	require.NoError(t, err)

	require.Equal(t, common.HexToAddress("0xd1"), cfg.Ledger.DispatcherAddr)
	require.Equal(t, "/data/registry.sqlite", cfg.Registry.DBPath)
	require.Len(t, cfg.Tranches, 1)
	require.Equal(t, common.HexToAddress("0xa5"), cfg.Tranches[0].Address)
	require.Equal(t, 5*time.Minute, cfg.Tranches[0].MarketsTTL.Duration)
	require.Len(t, cfg.Tranches[0].Terms, 1)
	require.Equal(t, uint64(500), cfg.Tranches[0].Terms[0].RateBps)
}

func TestLoadFileMandatoryVarFromEnv(t *testing.T) {
	t.Setenv("BRIDGEDATA_IndexerURL", "http://indexer:9000")
	cfg, err := LoadFile(nil, "")
	require.NoError(t, err)
	require.Equal(t, "http://indexer:9000", cfg.EventIndex.IndexerURL)
}

func TestLoadFileSavesRenderedConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFile(nil, dir)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, SaveConfigFileName))
	require.NoError(t, err)
	require.Contains(t, string(content), `DBPath = "/tmp/bridgedata/registry.sqlite"`)
	require.NotContains(t, string(content), startTag)
}

func TestReadFilesConvertsJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Registry": {"DBPath": "/x.sqlite"}}`), 0600))

	files, err := readFiles([]string{path})
	require.NoError(t, err)
	cfg, err := LoadFile(files, "")
	require.NoError(t, err)
	require.Equal(t, "/x.sqlite", cfg.Registry.DBPath)
}

func TestSaveConfigToString(t *testing.T) {
	cfg, err := LoadFile(nil, "")
	require.NoError(t, err)
	s, err := SaveConfigToString(*cfg)
	require.NoError(t, err)
	require.Contains(t, s, "[Registry]")
}

func TestForbiddenField(t *testing.T) {
	require.NotNil(t, getForbiddenField("ledger.ethtxmanager.persistencefilename"))
	require.Nil(t, getForbiddenField("ledger.ethtxmanager.storagepath"))
}
