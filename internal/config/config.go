package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	HTTPPort        string
	Env             string
	LogLevel        string
	MasterToken     string
	SwaggerEnable   bool
	StoreDriver     string
	DatabaseDSN     string
	DataDir         string
	EventLogDir     string
	CommunitiesFile string
	Postgres        PostgresConfig
	Storage         StorageConfig
	Webhook         WebhookConfig
	WhatsApp        WhatsAppConfig
	Scheduler       SchedulerConfig
	Quorum          QuorumConfig
	Communities     []CommunityConfig
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PublicURL string
	Prefix    string
}

func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != "" && s.Bucket != ""
}

type WebhookConfig struct {
	URL    string
	Token  string
	Events []string
}

type WhatsAppConfig struct {
	SessionName string
	SkipConnect bool
	DeviceDir   string
}

type SchedulerConfig struct {
	PollInterval        time.Duration
	Timezone            string
	WeeklyOpenAt        string
	WeeklyCloseAt       string
	MonthlyResetAt      string
	RefreshEvery        time.Duration
	CalendarEnabled     bool
	AnnounceLeaderboard bool
	Concurrency         int
}

type QuorumConfig struct {
	TiePolicy        string
	EffectMaxRetries uint64
}

// CommunityConfig is one entry of the communities file.
type CommunityConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Tribunal     string   `yaml:"tribunal"`
	WinnersGroup string   `yaml:"winnersGroup"`
	Automated    []string `yaml:"automated"`
}

type communitiesFile struct {
	Communities []CommunityConfig `yaml:"communities"`
}

func Load() (*AppConfig, error) {
	pg := PostgresConfig{
		Host:     getEnv("POSTGRES_HOST", ""),
		Port:     getEnv("POSTGRES_PORT", ""),
		User:     getEnv("POSTGRES_USER", ""),
		Password: getEnv("POSTGRES_PASSWORD", ""),
		DBName:   getEnv("POSTGRES_DB", ""),
		SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
	}

	storage := StorageConfig{
		Endpoint:  getEnv("STORAGE_ENDPOINT", getEnv("MINIO_ENDPOINT", "")),
		AccessKey: getEnv("STORAGE_ACCESS_KEY", getEnv("MINIO_ACCESS_KEY", "")),
		SecretKey: getEnv("STORAGE_SECRET_KEY", getEnv("MINIO_SECRET_KEY", "")),
		Bucket:    getEnv("STORAGE_BUCKET", getEnv("MINIO_BUCKET", "")),
		Region:    getEnv("STORAGE_REGION", getEnv("MINIO_REGION", "")),
		UseSSL:    getEnv("STORAGE_USE_SSL", getEnv("MINIO_USE_SSL", "false")) == "true",
		PublicURL: getEnv("STORAGE_PUBLIC_URL", getEnv("MINIO_PUBLIC_URL", "")),
		Prefix:    getEnv("STORAGE_PREFIX", "council"),
	}

	dataDir := getEnv("DATA_DIR", "data")
	dsn := getEnv("DATABASE_DSN", "")
	driver := strings.ToLower(getEnv("STORE_DRIVER", ""))
	if driver == "" {
		lower := strings.ToLower(dsn)
		switch {
		case strings.HasPrefix(lower, "postgres"), pg.Host != "":
			driver = "postgres"
		default:
			driver = "file"
		}
	}
	switch driver {
	case "postgres":
		if dsn == "" {
			dsn = buildPostgresDSN(pg)
		}
	case "sqlite":
		if dsn == "" {
			dsn = dataDir + "/council.db"
		}
	case "memory", "file":
	default:
		return nil, fmt.Errorf("STORE_DRIVER %q: expected memory, file, sqlite or postgres", driver)
	}

	var errs []string
	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, def))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid duration", key))
		}
		return d
	}
	integer := func(key, def string) int {
		n, err := strconv.Atoi(getEnv(key, def))
		if err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid number", key))
		}
		return n
	}

	cfg := &AppConfig{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		Env:             getEnv("APP_ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		MasterToken:     getEnv("API_MASTER_TOKEN", ""),
		SwaggerEnable:   getEnv("SWAGGER_ENABLE", "true") == "true",
		StoreDriver:     driver,
		DatabaseDSN:     dsn,
		DataDir:         dataDir,
		EventLogDir:     getEnv("EVENT_LOG_DIR", ""),
		CommunitiesFile: getEnv("COMMUNITIES_FILE", "communities.yaml"),
		Postgres:        pg,
		Storage:         storage,
		Webhook: WebhookConfig{
			URL:    strings.TrimSpace(getEnv("DECISION_WEBHOOK_URL", "")),
			Token:  getEnv("DECISION_WEBHOOK_TOKEN", ""),
			Events: splitList(getEnv("DECISION_WEBHOOK_EVENTS", "")),
		},
		WhatsApp: WhatsAppConfig{
			SessionName: getEnv("WA_SESSION_NAME", "council"),
			SkipConnect: getEnv("WA_SKIP_CONNECT", "false") == "true",
			DeviceDir:   getEnv("WA_DEVICE_DIR", dataDir+"/devices"),
		},
		Scheduler: SchedulerConfig{
			PollInterval:        duration("SCHEDULER_POLL_INTERVAL", "1m"),
			Timezone:            getEnv("SCHEDULER_TIMEZONE", "UTC"),
			WeeklyOpenAt:        getEnv("WEEKLY_OPEN_AT", "wednesday 18"),
			WeeklyCloseAt:       getEnv("WEEKLY_CLOSE_AT", "friday 20"),
			MonthlyResetAt:      getEnv("MONTHLY_RESET_AT", "1 12"),
			RefreshEvery:        time.Duration(integer("REFRESH_EVERY_HOURS", "6")) * time.Hour,
			CalendarEnabled:     getEnv("CALENDAR_ENABLED", "true") == "true",
			AnnounceLeaderboard: getEnv("ANNOUNCE_LEADERBOARD", "false") == "true",
			Concurrency:         integer("SCHEDULER_CONCURRENCY", "4"),
		},
		Quorum: QuorumConfig{
			TiePolicy:        getEnv("QUORUM_TIE_POLICY", "approve"),
			EffectMaxRetries: uint64(integer("EFFECT_MAX_RETRIES", "3")),
		},
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	communities, err := LoadCommunities(cfg.CommunitiesFile)
	if err != nil {
		return nil, err
	}
	cfg.Communities = communities
	return cfg, nil
}

// LoadCommunities reads the communities file. A missing file means no
// community is governed yet.
func LoadCommunities(path string) ([]CommunityConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read communities file: %w", err)
	}
	var file communitiesFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &file); err != nil {
		return nil, fmt.Errorf("parse communities file %s: %w", path, err)
	}
	seen := map[string]bool{}
	for i, c := range file.Communities {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, fmt.Errorf("communities file %s: entry %d has no id", path, i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("communities file %s: duplicate id %s", path, id)
		}
		seen[id] = true
		file.Communities[i].ID = id
	}
	return file.Communities, nil
}

func buildPostgresDSN(pg PostgresConfig) string {
	host := pg.Host
	if host == "" {
		host = "localhost"
	}
	port := pg.Port
	if port == "" {
		port = "5432"
	}
	ssl := pg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}

	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%s", host, port)}
	if pg.User != "" {
		if pg.Password != "" {
			u.User = url.UserPassword(pg.User, pg.Password)
		} else {
			u.User = url.User(pg.User)
		}
	}
	if pg.DBName != "" {
		u.Path = pg.DBName
	}
	q := u.Query()
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return u.String()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func MustLoad() *AppConfig {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.HTTPPort == "" {
		log.Fatal("HTTP_PORT required")
	}
	return cfg
}
