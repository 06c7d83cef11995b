package config

// DefaultMandatoryVars have no sensible default, they depend on the deployment
const DefaultMandatoryVars = `
# URL of the RPC node of the chain hosting the dispatcher
L1URL = "http://localhost:8545"
# L1ChainID is the chain id of that chain
L1ChainID = 1337
# DispatcherAddr is the address of the dispatcher contract
DispatcherAddr = "0x0000000000000000000000000000000000000000"
# SenderAddr is the account sending the dispatcher transactions
SenderAddr = "0x0000000000000000000000000000000000000000"
# SenderPrivateKeyPath is the keystore of SenderAddr
SenderPrivateKeyPath = "/app/keystore/sender.keystore"
# SenderPrivateKeyPassword is the password of the keystore
SenderPrivateKeyPassword = "testonly"
# IndexerURL is the JSON-RPC endpoint mapping interaction batches to their txs
IndexerURL = "http://localhost:8080"
`

// DefaultVars are used to avoid repetition in config-files
const DefaultVars = `
PathRWData = "/tmp/bridgedata"
InteractionsPerBatch = 32
`

// DefaultValues is the default configuration
const DefaultValues = `
# This is the default configuration for the bridgedata node

[Log]
  # Environment is the environment where the node is running
  Environment = "development" # "production" or "development"
  # Level is the log level
  Level = "info"
  # Outputs are the outputs where the logs will be written
  Outputs = ["stderr"]

[Etherman]
  # URL is the URL of the RPC node
  URL = "{{L1URL}}"
  # ChainID is the chain id expected from the node
  ChainID = {{L1ChainID}}
  # BlockFinality is the block used to read the ledger clock and the interaction status
  BlockFinality = "LatestBlock"

[Ledger]
  DispatcherAddr = "{{DispatcherAddr}}"
  SenderAddr = "{{SenderAddr}}"
  # GasOffset is added to the estimated gas of every transaction
  GasOffset = 80000
  # WaitPeriodMonitorTx is the time between two polls of a monitored tx
  WaitPeriodMonitorTx = "1s"
  # RetryAfterErrorPeriod is the time that will be waited when an unexpected error happens before retry
  RetryAfterErrorPeriod = "1s"
  # MaxRetryAttemptsAfterError is the maximum number of consecutive attempts.
  # Any number smaller than zero will be considered as unlimited retries
  MaxRetryAttemptsAfterError = 10
  [Ledger.EthTxManager]
    FrequencyToMonitorTxs = "1s"
    WaitTxToBeMined = "2m"
    GetReceiptMaxTime = "250ms"
    GetReceiptWaitInterval = "1s"
    PrivateKeys = [
      {Path = "{{SenderPrivateKeyPath}}", Password = "{{SenderPrivateKeyPassword}}"},
    ]
    ForcedGas = 0
    GasPriceMarginFactor = 1
    MaxGasPriceLimit = 0
    StoragePath = "{{PathRWData}}/ethtxmanager.sqlite"
    ReadPendingL1Txs = false
    SafeStatusL1NumberOfBlocks = 0
    FinalizedStatusL1NumberOfBlocks = 0
    [Ledger.EthTxManager.Etherman]
      URL = "{{L1URL}}"
      MultiGasProvider = false
      L1ChainID = {{L1ChainID}}
      HTTPHeaders = []

[Simulated]
  # StartTime is the initial ledger time, 0 starts at the wall clock time
  StartTime = 0
  # ClockTick is how often the ledger time catches up with the elapsed wall time, "0s" keeps it still
  ClockTick = "1s"

[Registry]
  # DBPath is the path of the database
  DBPath = "{{PathRWData}}/registry.sqlite"

[EventIndex]
  IndexerURL = "{{IndexerURL}}"
  # InteractionsPerBatch is the number of nonces the dispatcher allocates per batch
  InteractionsPerBatch = {{InteractionsPerBatch}}
  # FetchTimeout bounds the fetch of a batch missing from the cache
  FetchTimeout = "30s"

[Lifecycle]
  # RefreshTimeout bounds the reconciliation with the ledger after a finalisation attempt
  RefreshTimeout = "30s"

[AutoFinaliser]
  # Interval is the time between two passes over the pending interactions
  Interval = "1m"
  RetryAfterErrorPeriod = "10s"
  MaxRetryAttemptsAfterError = -1

[RPC]
  # Host defines the network adapter that will be used to serve the HTTP requests
  Host = "0.0.0.0"
  # Port defines the port to serve the endpoints via HTTP
  Port = 5576
  # ReadTimeout is the HTTP server read timeout
  # check net/http.server.ReadTimeout and net/http.server.ReadHeaderTimeout
  ReadTimeout = "2s"
  # WriteTimeout is the HTTP server write timeout, register and finalise wait for
  # their transactions to be mined
  # check net/http.server.WriteTimeout
  WriteTimeout = "3m"
  # MaxRequestsPerIPAndSecond defines how much requests a single IP can
  # send within a single second
  MaxRequestsPerIPAndSecond = 10
`
