package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	FFmpegPath  string
	FFprobePath string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	StorageBackend  string // "minio" or "local"
	LocalStorageDir string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioRegion     string
	MinioUseSSL     bool

	// 打包任务配置
	ScratchDir       string        // per-job scratch directories are created below this
	DownloadTTL      time.Duration // how long a READY archive stays downloadable
	StuckAfter       time.Duration // PROCESSING records older than this are reported as stuck
	WorkerCount      int
	QueueSize        int
	TranscodeWorkers int // per-job track parallelism
	SweepSchedule    string
	PurgeOnSweep     bool

	JWTSecret     string
	PublicBaseURL string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("24h", "90m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")
	dataBase := getEnv("DATA_DIR", "data")

	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		FFmpegPath:  ffmpegPath,
		FFprobePath: getEnv("FFPROBE_PATH", strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "releasekit"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StorageBackend:  getEnv("STORAGE_BACKEND", "minio"),
		LocalStorageDir: getEnv("LOCAL_STORAGE_DIR", filepath.Join(dataBase, "objects")),
		MinioEndpoint:   getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:     getEnv("MINIO_BUCKET", "releasekit"),
		MinioRegion:     getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", false),

		ScratchDir:       getEnv("SCRATCH_DIR", filepath.Join(dataBase, "scratch")),
		DownloadTTL:      getEnvDuration("DOWNLOAD_TTL", 24*time.Hour),
		StuckAfter:       getEnvDuration("DOWNLOAD_STUCK_AFTER", time.Hour),
		WorkerCount:      getEnvInt("DOWNLOAD_WORKERS", 2),
		QueueSize:        getEnvInt("DOWNLOAD_QUEUE_SIZE", 64),
		TranscodeWorkers: getEnvInt("TRANSCODE_WORKERS", 1),
		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "*/5 * * * *"),
		PurgeOnSweep:     getEnvBool("SWEEP_PURGE_ARTIFACTS", false),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		PublicBaseURL: strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", ""), "/"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}
}

// MySQLDSN 构建 MySQL 连接串
func (c *Config) MySQLDSN() string {
	mc := mysql.NewConfig()
	mc.User = c.DBUser
	mc.Passwd = c.DBPassword
	mc.Net = "tcp"
	mc.Addr = c.DBHost + ":" + c.DBPort
	mc.DBName = c.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// RedisAddr returns host:port for the redis client.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
