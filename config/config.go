package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4243"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Redis für die Cache-Versionierung
	RedisAddr          string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB            int    `envconfig:"REDIS_DB" default:"0"`
	CacheVersionPrefix string `envconfig:"CACHE_VERSION_PREFIX" default:"neurostore"`

	// Steuert, ob Media-Flags synchron beim Schreiben oder asynchron
	// über die Outbox neu berechnet werden.
	BaseStudyFlagsAsync bool `envconfig:"BASE_STUDY_FLAGS_ASYNC" default:"true"`

	OutboxBatchSize         int    `envconfig:"OUTBOX_BATCH_SIZE" default:"200"`
	OutboxRetryDelaySeconds int    `envconfig:"OUTBOX_RETRY_DELAY_SECONDS" default:"30"`
	FlagOutboxCron          string `envconfig:"FLAG_OUTBOX_CRON" default:"@every 1m"`
	MetadataOutboxCron      string `envconfig:"METADATA_OUTBOX_CRON" default:"@every 5m"`

	// Externe Identifier-/Metadaten-Provider
	SemanticScholarBaseURL string `envconfig:"SEMANTIC_SCHOLAR_BASE_URL" default:"https://api.semanticscholar.org/graph/v1"`
	SemanticScholarAPIKey  string `envconfig:"SEMANTIC_SCHOLAR_API_KEY"`
	PubMedBaseURL          string `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedIDConvURL        string `envconfig:"PUBMED_IDCONV_URL" default:"https://www.ncbi.nlm.nih.gov/pmc/utils/idconv/v1.0/"`
	PubMedAPIKey           string `envconfig:"PUBMED_API_KEY"`
	PubMedTool             string `envconfig:"PUBMED_TOOL" default:"neurostore-enrichment"`
	PubMedEmail            string `envconfig:"PUBMED_EMAIL"`
	OpenAlexBaseURL        string `envconfig:"OPENALEX_BASE_URL" default:"https://api.openalex.org"`
	OpenAlexMailto         string `envconfig:"OPENALEX_MAILTO"`

	ProviderRetryAttempts int `envconfig:"PROVIDER_RETRY_ATTEMPTS" default:"3"`
	ProviderTimeoutSecs   int `envconfig:"PROVIDER_TIMEOUT_SECONDS" default:"30"`

	// S3-Backup (cmd/backup)
	BackupS3Key    string `envconfig:"BACKUP_S3_KEY"`
	BackupS3Secret string `envconfig:"BACKUP_S3_SECRET"`
	BackupS3URL    string `envconfig:"BACKUP_S3_URL"`
	BackupS3Region string `envconfig:"BACKUP_S3_REGION"`
	BackupS3Bucket string `envconfig:"BACKUP_S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
