package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	RPCURL         string
	ChainID        uint64
	Account        string
	TokenAddress   string
	StakingRouter  string
	TokenSymbol    string
	TokenDecimals  int
	PollInterval   time.Duration
	ReceiptTimeout time.Duration

	DBPath        string
	DBDSN         string
	ClickhouseDSN string
	RedisAddr     string
	HTTPAddr      string
	OtelEndpoint  string

	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string
	ChainIDs         []uint64
	ArchiveBatchSize uint64

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, ok := source.Lookup("RPC_URL")
	if !ok || rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	chainID, err := parseUintEnv(source, "CHAIN_ID", 1)
	if err != nil {
		return Config{}, err
	}

	account, _ := source.Lookup("ACCOUNT")
	tokenAddress, _ := source.Lookup("TOKEN_ADDRESS")
	stakingRouter, _ := source.Lookup("STAKING_ROUTER_ADDRESS")

	tokenSymbol, ok := source.Lookup("TOKEN_SYMBOL")
	if !ok || strings.TrimSpace(tokenSymbol) == "" {
		tokenSymbol = "IMX"
	}
	tokenDecimals, err := parseUintEnv(source, "TOKEN_DECIMALS", 18)
	if err != nil {
		return Config{}, err
	}

	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 3*time.Second)
	if err != nil {
		return Config{}, err
	}
	receiptTimeout, err := parseDurationEnv(source, "RECEIPT_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	dbPath, ok := source.Lookup("DB_PATH")
	if !ok || strings.TrimSpace(dbPath) == "" {
		dbPath = "txwatch.db"
	}
	dbDSN, ok := source.Lookup("DB_DSN")
	if !ok || strings.TrimSpace(dbDSN) == "" {
		dbDSN = "root:@tcp(127.0.0.1:3306)/txwatch?parseTime=true&multiStatements=true"
	}
	clickhouseDSN, ok := source.Lookup("CLICKHOUSE_DSN")
	if !ok || strings.TrimSpace(clickhouseDSN) == "" {
		clickhouseDSN = "clickhouse://127.0.0.1:9000?database=txwatch"
	}

	redisAddr := "127.0.0.1:6379"
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "localhost:9092")
	if err != nil {
		return Config{}, err
	}
	kafkaTopicPrefix, ok := source.Lookup("KAFKA_TOPIC_PREFIX")
	if !ok || kafkaTopicPrefix == "" {
		kafkaTopicPrefix = "txwatch-events"
	}
	kafkaGroupID, ok := source.Lookup("KAFKA_GROUP_ID")
	if !ok || kafkaGroupID == "" {
		kafkaGroupID = "txwatch-archiver"
	}
	chainIDs, err := parseUintList(source, "CHAIN_IDS")
	if err != nil {
		return Config{}, err
	}
	archiveBatchSize, err := parseUintEnv(source, "ARCHIVE_BATCH_SIZE", 100)
	if err != nil {
		return Config{}, err
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")
	logMaxSizeMB, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:           rpcURL,
		ChainID:          chainID,
		Account:          account,
		TokenAddress:     tokenAddress,
		StakingRouter:    stakingRouter,
		TokenSymbol:      tokenSymbol,
		TokenDecimals:    int(tokenDecimals),
		PollInterval:     pollInterval,
		ReceiptTimeout:   receiptTimeout,
		DBPath:           dbPath,
		DBDSN:            dbDSN,
		ClickhouseDSN:    clickhouseDSN,
		RedisAddr:        redisAddr,
		HTTPAddr:         httpAddr,
		OtelEndpoint:     otelEndpoint,
		KafkaBrokers:     kafkaBrokers,
		KafkaTopicPrefix: kafkaTopicPrefix,
		KafkaGroupID:     kafkaGroupID,
		ChainIDs:         chainIDs,
		ArchiveBatchSize: archiveBatchSize,
		LogLevel:         logLevel,
		LogFile:          logFile,
		LogMaxSizeMB:     int(logMaxSizeMB),
		LogMaxBackups:    int(logMaxBackups),
	}, nil
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}

func parseUintList(source EnvSource, key string) ([]uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	items := strings.Split(raw, ",")
	values := make([]uint64, 0, len(items))
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		values = append(values, parsed)
	}
	return values, nil
}
