package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Cache         CacheConfig
	Engine        EngineConfig
	LLM           LLMConfig
}

type ServerConfig struct {
	Port string
}

// DatabaseConfig points at the MySQL metadata database holding the dataset
// catalog and query history, not at the datasets themselves.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type KafkaConfig struct {
	Brokers            []string
	DatasetEventsTopic string
	AuditTopic         string
	ConsumerGroup      string
}

type ElasticsearchConfig struct {
	Addresses      []string
	KnowledgeIndex string
}

type CacheConfig struct {
	Dir        string
	TTL        time.Duration
	GCSchedule string
	InMemory   bool
}

type EngineConfig struct {
	MaxRounds    int
	RowCeiling   int
	QueryTimeout time.Duration
}

type LLMConfig struct {
	APIKey  string
	ModelID string
	Timeout time.Duration
}

func NewConfig() (*Config, error) {
	// Configure Viper to read .env file
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// Enable automatic environment variable loading
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_DATASET_EVENTS_TOPIC", "dataset_events")
	viper.SetDefault("KAFKA_AUDIT_TOPIC", "query_audit")
	viper.SetDefault("KAFKA_CONSUMER_GROUP", "insight_engine_group")
	viper.SetDefault("ELASTICSEARCH_ADDRESSES", "http://localhost:9200")
	viper.SetDefault("ELASTICSEARCH_KNOWLEDGE_INDEX", "knowledge")
	viper.SetDefault("CACHE_DIR", "./semantic_cache")
	viper.SetDefault("CACHE_TTL", "24h")
	viper.SetDefault("CACHE_GC_SCHEDULE", "0 0 */2 * * *") // Every 2 hours
	viper.SetDefault("CACHE_IN_MEMORY", false)
	viper.SetDefault("ENGINE_MAX_ROUNDS", 3)
	viper.SetDefault("ENGINE_ROW_CEILING", 1000)
	viper.SetDefault("ENGINE_QUERY_TIMEOUT", "30s")
	viper.SetDefault("LLM_MODEL_ID", "gemini-1.5-flash-latest")
	viper.SetDefault("LLM_TIMEOUT", "60s")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Error reading config file")
	}

	var config Config
	config.Server.Port = viper.GetString("SERVER_PORT")

	config.Database.Host = viper.GetString("DATABASE_HOST")
	config.Database.Port = viper.GetString("DATABASE_PORT")
	config.Database.User = viper.GetString("DATABASE_USER")
	config.Database.Password = viper.GetString("DATABASE_PASSWORD")
	config.Database.Name = viper.GetString("DATABASE_NAME")

	// --- Kafka ---
	kafkaBrokers := viper.GetString("KAFKA_BROKERS")
	config.Kafka.Brokers = strings.Split(kafkaBrokers, ",")
	config.Kafka.DatasetEventsTopic = viper.GetString("KAFKA_DATASET_EVENTS_TOPIC")
	config.Kafka.AuditTopic = viper.GetString("KAFKA_AUDIT_TOPIC")
	config.Kafka.ConsumerGroup = viper.GetString("KAFKA_CONSUMER_GROUP")

	// --- Elasticsearch ---
	esAddresses := viper.GetString("ELASTICSEARCH_ADDRESSES")
	config.Elasticsearch.Addresses = strings.Split(esAddresses, ",")
	config.Elasticsearch.KnowledgeIndex = viper.GetString("ELASTICSEARCH_KNOWLEDGE_INDEX")

	// --- Semantic cache ---
	config.Cache.Dir = viper.GetString("CACHE_DIR")
	config.Cache.TTL = viper.GetDuration("CACHE_TTL")
	config.Cache.GCSchedule = viper.GetString("CACHE_GC_SCHEDULE")
	config.Cache.InMemory = viper.GetBool("CACHE_IN_MEMORY")

	// --- Query engine ---
	config.Engine.MaxRounds = viper.GetInt("ENGINE_MAX_ROUNDS")
	config.Engine.RowCeiling = viper.GetInt("ENGINE_ROW_CEILING")
	config.Engine.QueryTimeout = viper.GetDuration("ENGINE_QUERY_TIMEOUT")

	// --- LLM provider ---
	config.LLM.APIKey = viper.GetString("API_KEY")
	config.LLM.ModelID = viper.GetString("LLM_MODEL_ID")
	config.LLM.Timeout = viper.GetDuration("LLM_TIMEOUT")

	log.Info().Str("port", config.Server.Port).Str("model", config.LLM.ModelID).Msg("Config loaded")
	return &config, nil
}
