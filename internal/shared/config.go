package shared

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CORSOrigins []string

	GeocoderURL   string
	LotRecordsURL string
	AssessorURL   string // optional second lot source
	HazardV1URL   string
	HazardV2URL   string
	SolarURL      string
	ProviderKey   string
	ProviderRPS   int

	FetchTimeout   time.Duration
	GeocodeTimeout time.Duration
	CacheTTL       time.Duration
	MemCacheTTL    time.Duration
	Workers        int
}

var defaults = map[string]any{
	"APP_ENV":                 "prod",
	"LOG_LEVEL":               "info",
	"HTTP_ADDR":               ":8080",
	"METRICS_ADDR":            "",
	"MYSQL_DSN":               "root:root@tcp(localhost:3306)/propenrich?parseTime=true&charset=utf8mb4,utf8&loc=UTC",
	"REDIS_ADDR":              "localhost:6379",
	"REDIS_DB":                0,
	"REDIS_PASSWORD":          "",
	"CORS_ORIGINS":            "",
	"GEOCODER_URL":            "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress",
	"LOT_RECORDS_URL":         "",
	"COUNTY_ASSESSOR_URL":     "",
	"HAZARD_V1_URL":           "",
	"HAZARD_V2_URL":           "",
	"SOLAR_URL":               "",
	"PROVIDER_API_KEY":        "",
	"PROVIDER_RPS":            5,
	"FETCH_TIMEOUT_SECONDS":   20,
	"GEOCODE_TIMEOUT_SECONDS": 10,
	"CACHE_TTL_SECONDS":       900,
	"MEMCACHE_TTL_SECONDS":    60,
	"ENRICH_WORKERS":          4,
}

// Load reads configuration from the environment, and from the file named by
// CONFIG_FILE when set. Environment variables win over the file.
func Load() Config {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	if f := v.GetString("CONFIG_FILE"); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("config file not loaded")
		}
	}

	secs := func(k string) time.Duration { return time.Duration(v.GetInt(k)) * time.Second }
	c := Config{
		AppEnv:         v.GetString("APP_ENV"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		HTTPAddr:       v.GetString("HTTP_ADDR"),
		MetricsAddr:    v.GetString("METRICS_ADDR"),
		MySQLDSN:       v.GetString("MYSQL_DSN"),
		RedisAddr:      v.GetString("REDIS_ADDR"),
		RedisDB:        v.GetInt("REDIS_DB"),
		RedisPass:      v.GetString("REDIS_PASSWORD"),
		GeocoderURL:    v.GetString("GEOCODER_URL"),
		LotRecordsURL:  v.GetString("LOT_RECORDS_URL"),
		AssessorURL:    v.GetString("COUNTY_ASSESSOR_URL"),
		HazardV1URL:    v.GetString("HAZARD_V1_URL"),
		HazardV2URL:    v.GetString("HAZARD_V2_URL"),
		SolarURL:       v.GetString("SOLAR_URL"),
		ProviderKey:    v.GetString("PROVIDER_API_KEY"),
		ProviderRPS:    v.GetInt("PROVIDER_RPS"),
		FetchTimeout:   secs("FETCH_TIMEOUT_SECONDS"),
		GeocodeTimeout: secs("GEOCODE_TIMEOUT_SECONDS"),
		CacheTTL:       secs("CACHE_TTL_SECONDS"),
		MemCacheTTL:    secs("MEMCACHE_TTL_SECONDS"),
		Workers:        v.GetInt("ENRICH_WORKERS"),
	}
	for _, o := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.CORSOrigins = append(c.CORSOrigins, o)
		}
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	for name, u := range map[string]string{
		"LOT_RECORDS_URL": c.LotRecordsURL,
		"HAZARD_V1_URL":   c.HazardV1URL,
		"HAZARD_V2_URL":   c.HazardV2URL,
		"SOLAR_URL":       c.SolarURL,
	} {
		if u == "" {
			log.Warn().Str("setting", name).Msg("provider URL is empty; provider disabled")
		}
	}
	return c
}
