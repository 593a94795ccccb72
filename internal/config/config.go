// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Vector        VectorConfig        `yaml:"vector" mapstructure:"vector"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Embedding     EmbeddingConfig     `yaml:"embedding" mapstructure:"embedding"`
	Search        SearchConfig        `yaml:"search" mapstructure:"search"`
	Dialogue      DialogueConfig      `yaml:"dialogue" mapstructure:"dialogue"`
	Quota         QuotaConfig         `yaml:"quota" mapstructure:"quota"`
	Ingest        IngestConfig        `yaml:"ingest" mapstructure:"ingest"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// VectorConfig 向量数据库配置
type VectorConfig struct {
	Milvus MilvusConfig `yaml:"milvus" mapstructure:"milvus"`
}

// MilvusConfig Milvus 配置
type MilvusConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	CollectionPrefix   string `yaml:"collection_prefix" mapstructure:"collection_prefix"`
	HNSWM              int    `yaml:"hnsw_m" mapstructure:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" mapstructure:"hnsw_ef_construction"`
}

// LLMConfig 生成模型配置
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// EmbeddingConfig Embedding 配置
type EmbeddingConfig struct {
	APIKey       string        `yaml:"api_key" mapstructure:"api_key"`
	Endpoint     string        `yaml:"endpoint" mapstructure:"endpoint"`
	Model        string        `yaml:"model" mapstructure:"model"`
	Dimension    int           `yaml:"dimension" mapstructure:"dimension"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// SearchConfig 发现检索配置。
// TTL 与倍率集中在这里，调用点不允许出现内联常量。
type SearchConfig struct {
	MaxQueryRunes     int           `yaml:"max_query_runes" mapstructure:"max_query_runes"`
	DefaultLimit      int           `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit          int           `yaml:"max_limit" mapstructure:"max_limit"`
	OverFetchFactor   int           `yaml:"over_fetch_factor" mapstructure:"over_fetch_factor"`
	ResultCacheTTL    time.Duration `yaml:"result_cache_ttl" mapstructure:"result_cache_ttl"`
	EmbeddingCacheTTL time.Duration `yaml:"embedding_cache_ttl" mapstructure:"embedding_cache_ttl"`
	VectorTimeout     time.Duration `yaml:"vector_timeout" mapstructure:"vector_timeout"`
	PreviewChunks     int           `yaml:"preview_chunks" mapstructure:"preview_chunks"`
	PreviewMaxRunes   int           `yaml:"preview_max_runes" mapstructure:"preview_max_runes"`
}

// DialogueConfig 对话会话配置
type DialogueConfig struct {
	ContextTokenBudget int           `yaml:"context_token_budget" mapstructure:"context_token_budget"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	GenerationTimeout  time.Duration `yaml:"generation_timeout" mapstructure:"generation_timeout"`
	StreamBuffer       int           `yaml:"stream_buffer" mapstructure:"stream_buffer"`
	HistoryPageSize    int           `yaml:"history_page_size" mapstructure:"history_page_size"`
}

// QuotaConfig 配额配置
type QuotaConfig struct {
	Tiers map[string]TierConfig `yaml:"tiers" mapstructure:"tiers"`
}

// TierConfig 单个会员层级的配额策略
type TierConfig struct {
	Allowance int64  `yaml:"allowance" mapstructure:"allowance"`
	Period    string `yaml:"period" mapstructure:"period"` // "daily" | "monthly"
}

// IngestConfig 书籍内容摄取配置
type IngestConfig struct {
	ChunkRunes   int `yaml:"chunk_runes" mapstructure:"chunk_runes"`
	ChunkOverlap int `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen       int           `yaml:"max_len" mapstructure:"max_len"`
	BlockTimeout time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	RetryLimit   int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt" mapstructure:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// JWTConfig JWT 校验配置（只解析，上游身份服务负责签发）
type JWTConfig struct {
	Secret string `yaml:"secret" mapstructure:"secret"`
	Issuer string `yaml:"issuer" mapstructure:"issuer"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int  `yaml:"burst" mapstructure:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
