// Package config loads the proxy settings from the environment.
package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Upstream  UpstreamConfig
}

type ServerConfig struct {
	Port            string
	PublicBaseURL   string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	PlaylistCache   time.Duration
	// TrustedProxies are CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
}

type LogConfig struct {
	Path  string
	Level string
}

type RateLimitConfig struct {
	Store         string
	Window        time.Duration
	MaxRequests   int
	MaxClients    int
	SweepInterval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type UpstreamConfig struct {
	Timeout          time.Duration
	UserAgent        string
	MaxRedirects     int
	MaxPlaylistBytes int64
	ResolveGuard     bool
}

// Load reads an optional .env file, then an optional YAML file named by
// CONFIG_FILE, then the process environment. Environment values win.
func Load() (Config, error) {
	_ = godotenv.Load()

	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read CONFIG_FILE: %w", err)
		}
		if src, err = parseFile(file); err != nil {
			return Config{}, fmt.Errorf("parse CONFIG_FILE: %w", err)
		}
	}
	return src.build()
}

// source resolves a key from the environment first and the YAML file second.
type source map[string]string

func parseFile(data []byte) (source, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	src := make(source, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		src[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return src, nil
}

func (s source) get(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if v := strings.TrimSpace(s[key]); v != "" {
		return v
	}
	return fallback
}

func (s source) int(key string, fallback int) (int, error) {
	n, err := strconv.Atoi(s.get(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(s.get(key, fallback.String()))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func (s source) bool(key string, fallback bool) (bool, error) {
	b, err := strconv.ParseBool(s.get(key, strconv.FormatBool(fallback)))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func (s source) build() (Config, error) {
	server, err := s.buildServer()
	if err != nil {
		return Config{}, err
	}
	rateLimit, err := s.buildRateLimit()
	if err != nil {
		return Config{}, err
	}
	redis, err := s.buildRedis()
	if err != nil {
		return Config{}, err
	}
	upstream, err := s.buildUpstream()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: server,
		Log: LogConfig{
			Path:  s.get("LOG_PATH", "/app/logs/proxy.log"),
			Level: s.get("LOG_LEVEL", "info"),
		},
		RateLimit: rateLimit,
		Redis:     redis,
		Upstream:  upstream,
	}, nil
}

func (s source) buildServer() (ServerConfig, error) {
	base := strings.TrimRight(s.get("PUBLIC_BASE_URL", ""), "/")
	if base != "" {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ServerConfig{}, fmt.Errorf("invalid PUBLIC_BASE_URL: %q", base)
		}
	}

	var origins []string
	for _, origin := range strings.Split(s.get("ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	shutdown, err := s.duration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	cacheTTL, err := s.duration("PLAYLIST_CACHE_TTL", 2*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	trusted, err := parsePrefixes(s.get("TRUSTED_PROXIES", ""))
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	return ServerConfig{
		Port:            s.get("PROXY_PORT", "8080"),
		PublicBaseURL:   base,
		AllowedOrigins:  origins,
		ShutdownTimeout: shutdown,
		PlaylistCache:   cacheTTL,
		TrustedProxies:  trusted,
	}, nil
}

func parsePrefixes(list string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (s source) buildRateLimit() (RateLimitConfig, error) {
	windowSeconds, err := s.int("RATE_LIMIT_WINDOW_SECONDS", 60)
	if err != nil {
		return RateLimitConfig{}, err
	}
	maxRequests, err := s.int("RATE_LIMIT_MAX_REQUESTS", 100)
	if err != nil {
		return RateLimitConfig{}, err
	}
	if windowSeconds <= 0 || maxRequests <= 0 {
		return RateLimitConfig{}, fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS and RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	maxClients, err := s.int("RATE_LIMIT_MAX_CLIENTS", 10000)
	if err != nil {
		return RateLimitConfig{}, err
	}
	sweep, err := s.duration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return RateLimitConfig{}, err
	}

	store := strings.ToLower(s.get("RATE_LIMIT_STORE", "memory"))
	if store != "memory" && store != "redis" {
		return RateLimitConfig{}, fmt.Errorf("unsupported RATE_LIMIT_STORE: %s", store)
	}

	return RateLimitConfig{
		Store:         store,
		Window:        time.Duration(windowSeconds) * time.Second,
		MaxRequests:   maxRequests,
		MaxClients:    maxClients,
		SweepInterval: sweep,
	}, nil
}

func (s source) buildRedis() (RedisConfig, error) {
	db, err := s.int("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		Addr:     s.get("REDIS_ADDR", "localhost:6379"),
		Password: s.get("REDIS_PASSWORD", ""),
		DB:       db,
	}, nil
}

func (s source) buildUpstream() (UpstreamConfig, error) {
	timeout, err := s.duration("UPSTREAM_TIMEOUT", 8*time.Second)
	if err != nil {
		return UpstreamConfig{}, err
	}
	redirects, err := s.int("UPSTREAM_MAX_REDIRECTS", 5)
	if err != nil {
		return UpstreamConfig{}, err
	}
	maxBytes, err := s.int("MAX_PLAYLIST_BYTES", 5<<20)
	if err != nil {
		return UpstreamConfig{}, err
	}
	resolve, err := s.bool("ORIGIN_GUARD_RESOLVE", true)
	if err != nil {
		return UpstreamConfig{}, err
	}

	return UpstreamConfig{
		Timeout:          timeout,
		UserAgent:        s.get("UPSTREAM_USER_AGENT", DefaultUserAgent),
		MaxRedirects:     redirects,
		MaxPlaylistBytes: int64(maxBytes),
		ResolveGuard:     resolve,
	}, nil
}
