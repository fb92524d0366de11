// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	PGVector      PGVectorConfig      `mapstructure:"pgvector"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Storage       StorageConfig       `mapstructure:"storage"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	S3            S3Config            `mapstructure:"s3"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Vision        VisionConfig        `mapstructure:"vision"`
	Extractor     ExtractorConfig     `mapstructure:"extractor"`
	Chunker       ChunkerConfig       `mapstructure:"chunker"`
	Resolver      ResolverConfig      `mapstructure:"resolver"`
	Render        RenderConfig        `mapstructure:"render"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// MaxUploadMB 限制单个上传文件的大小。
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 校验相关的配置。token 由认证服务签发，这里只负责校验。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	// WriteRoles 允许提交文档、发起生成和维护模板的角色。
	WriteRoles []string `mapstructure:"write_roles"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。抽取和生成是两条互不阻塞的队列。
type KafkaConfig struct {
	Brokers         string        `mapstructure:"brokers"`
	ExtractionTopic string        `mapstructure:"extraction_topic"`
	GenerationTopic string        `mapstructure:"generation_topic"`
	GroupID         string        `mapstructure:"group_id"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Backoff         time.Duration `mapstructure:"backoff"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// PGVectorConfig 存储 Postgres + pgvector 向量库的配置。
type PGVectorConfig struct {
	DSN       string `mapstructure:"dsn"`
	TableName string `mapstructure:"table_name"`
}

// VectorConfig 选择向量检索后端。
// database: 直接在 chunks 表上做按 listing 过滤的全量余弦扫描；
// elasticsearch / pgvector: 额外写入近似最近邻索引。
type VectorConfig struct {
	Backend string `mapstructure:"backend"`
	TopK    int    `mapstructure:"top_k"`
}

// StorageConfig 选择对象存储实现（minio 或 s3）。
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// S3Config 存储 AWS S3（或兼容服务）的配置。
type S3Config struct {
	Region          string        `mapstructure:"region"`
	Bucket          string        `mapstructure:"bucket"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UsePathStyle    bool          `mapstructure:"use_path_style"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// RateLimit 为每秒请求数，0 表示不限速。
	RateLimit float64 `mapstructure:"rate_limit"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	RateLimit  float64             `mapstructure:"rate_limit"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// VisionConfig 配置扫描件和图片使用的多模态模型。
type VisionConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinTextChars int           `mapstructure:"min_text_chars"`
}

// ExtractorConfig 选择 PDF 文本层的抽取后端（docconv 或 tika）。
type ExtractorConfig struct {
	PDFBackend string `mapstructure:"pdf_backend"`
}

// ChunkerConfig 以 token 为单位配置分块，按 4 字符/token 换算。
type ChunkerConfig struct {
	ChunkTokens   int `mapstructure:"chunk_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

// ResolverConfig 配置模板变量的检索与生成。
type ResolverConfig struct {
	TopK                int  `mapstructure:"top_k"`
	MaxSnippets         int  `mapstructure:"max_snippets"`
	MaxContextTokens    int  `mapstructure:"max_context_tokens"`
	Concurrency         int  `mapstructure:"concurrency"`
	AttachFullDocuments bool `mapstructure:"attach_full_documents"`
	FullDocumentChars   int  `mapstructure:"full_document_chars"`
}

// RenderConfig 配置输出文档的版式。
type RenderConfig struct {
	PageSize string  `mapstructure:"page_size"`
	MarginMM float64 `mapstructure:"margin_mm"`
	Banner   string  `mapstructure:"banner"`
}

// PipelineConfig 配置任务管道。
type PipelineConfig struct {
	// RecoverOnStart 启动时重新投递未完成的任务。
	RecoverOnStart bool `mapstructure:"recover_on_start"`
	// RecoverInterval 定时扫描没有进展的任务，0 表示关闭。
	RecoverInterval time.Duration `mapstructure:"recover_interval"`
	// StaleAfter 超过该时长没有心跳的未完成任务会被重新投递，需大于 LockTTL。
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// LockTTL 任务锁的过期时间，消费者崩溃后最多等待这么久就能被接管。
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// SetDefaults 写入所有默认值，使稀疏的配置文件也可用。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("jwt.write_roles", []string{"editor", "admin"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.extraction_topic", "om-extraction")
	v.SetDefault("kafka.generation_topic", "om-generation")
	v.SetDefault("kafka.group_id", "om-smart-go-consumer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.backoff", 2*time.Second)
	v.SetDefault("tika.timeout", 60*time.Second)
	v.SetDefault("elasticsearch.index_name", "om_chunks")
	v.SetDefault("pgvector.table_name", "chunk_embeddings")
	v.SetDefault("vector.backend", "database")
	v.SetDefault("vector.top_k", 8)
	v.SetDefault("storage.driver", "minio")
	v.SetDefault("s3.timeout", 60*time.Second)
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.batch_size", 5)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.generation.temperature", 0.4)
	v.SetDefault("llm.generation.max_tokens", 1024)
	v.SetDefault("vision.model", "gemini-1.5-flash")
	v.SetDefault("vision.temperature", 0.1)
	v.SetDefault("vision.max_tokens", 8192)
	v.SetDefault("vision.timeout", 120*time.Second)
	v.SetDefault("vision.min_text_chars", 50)
	v.SetDefault("extractor.pdf_backend", "docconv")
	v.SetDefault("chunker.chunk_tokens", 500)
	v.SetDefault("chunker.overlap_tokens", 50)
	v.SetDefault("resolver.top_k", 12)
	v.SetDefault("resolver.max_snippets", 10)
	v.SetDefault("resolver.max_context_tokens", 6000)
	v.SetDefault("resolver.concurrency", 3)
	v.SetDefault("resolver.full_document_chars", 5000)
	v.SetDefault("render.page_size", "A4")
	v.SetDefault("render.margin_mm", 20)
	v.SetDefault("render.banner", "CONFIDENTIAL")
	v.SetDefault("pipeline.recover_on_start", true)
	v.SetDefault("pipeline.recover_interval", 5*time.Minute)
	v.SetDefault("pipeline.stale_after", 10*time.Minute)
	v.SetDefault("pipeline.lock_ttl", 90*time.Second)
}

// Init 初始化配置加载：先加载可选的 .env，再读取 YAML 文件，环境变量（OM_ 前缀）优先。
func Init(configPath string) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.GetViper()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
	if err := Conf.Validate(); err != nil {
		panic(fmt.Errorf("配置校验失败: %w", err))
	}
}

// Validate 检查无法靠默认值兜底的组合。
func (c *Config) Validate() error {
	k := c.Kafka
	if strings.TrimSpace(k.ExtractionTopic) == "" || strings.TrimSpace(k.GenerationTopic) == "" {
		return fmt.Errorf("kafka.extraction_topic 和 kafka.generation_topic 不能为空")
	}
	if k.ExtractionTopic == k.GenerationTopic {
		return fmt.Errorf("抽取和生成必须使用不同的 topic, 当前都是 %q", k.ExtractionTopic)
	}
	p := c.Pipeline
	if p.RecoverInterval > 0 && p.StaleAfter <= p.LockTTL {
		return fmt.Errorf("pipeline.stale_after (%s) 必须大于 pipeline.lock_ttl (%s)", p.StaleAfter, p.LockTTL)
	}
	return nil
}
