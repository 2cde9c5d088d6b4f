package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Calendar backends.
const (
	BackendGoogle = "google"
	BackendICS    = "ics"
)

const (
	defaultListen        = "127.0.0.1:8000"
	defaultTimezone      = "Asia/Kolkata"
	defaultProductName   = "TailorTalk"
	defaultMeetingMin    = 30
	defaultMaxResults    = 10
	defaultTokenDir      = "tokens"
	defaultTokenSweep    = "*/10 * * * *"
	defaultCalendarID    = "primary"
	defaultICSDir        = "calendars"
	defaultLLMBaseURL    = "https://api.groq.com/openai/v1"
	defaultLLMModel      = "llama3-70b-8192"
	defaultLLMTemp       = 0.3
	defaultLLMTimeoutSec = 30
	defaultFrontendURL   = "http://localhost:8501"
)

// CalendarConfig selects and configures the calendar backend.
type CalendarConfig struct {
	// Backend is "google" (default) or "ics" for a local file-backed calendar.
	Backend    string `yaml:"backend" json:"backend"`
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	// ICSDir holds one <user>.ics file per user when Backend is "ics".
	ICSDir string `yaml:"ics_dir" json:"ics_dir"`
	// Subscriptions are read-only ICS feed URLs overlaid on every user's
	// listing when Backend is "ics".
	Subscriptions []string `yaml:"subscriptions,omitempty" json:"subscriptions,omitempty"`
	// FeedCacheDir keeps the last good copy of each subscription.
	FeedCacheDir string `yaml:"feed_cache_dir" json:"feed_cache_dir"`
}

// LLMConfig configures the OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL        string  `yaml:"base_url" json:"base_url"`
	Model          string  `yaml:"model" json:"model"`
	Temperature    float32 `yaml:"temperature" json:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	APIKey         string  `yaml:"api_key,omitempty" json:"-"`
}

// GoogleConfig holds OAuth client settings. CredentialsPath, if set, points
// at a client secrets JSON downloaded from the Google console and takes
// precedence over ClientID/ClientSecret.
type GoogleConfig struct {
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`
	ClientID        string `yaml:"client_id" json:"client_id"`
	ClientSecret    string `yaml:"client_secret,omitempty" json:"-"`
	RedirectURL     string `yaml:"redirect_url" json:"redirect_url"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used to interpret and display times.
	Timezone string `yaml:"timezone" json:"timezone"`

	ProductName    string `yaml:"product_name" json:"product_name"`
	MeetingMinutes int    `yaml:"meeting_minutes" json:"meeting_minutes"`
	MaxResults     int    `yaml:"max_results" json:"max_results"`

	// FrontendURL receives the browser after a successful OAuth callback.
	FrontendURL string   `yaml:"frontend_url" json:"frontend_url"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	TokenDir string `yaml:"token_dir" json:"token_dir"`
	// TokenSweep is a cron spec for the token refresh/purge job.
	TokenSweep string `yaml:"token_sweep" json:"token_sweep"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Google   GoogleConfig   `yaml:"google" json:"google"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.ProductName == "" {
		c.ProductName = defaultProductName
	}
	if c.MeetingMinutes <= 0 {
		c.MeetingMinutes = defaultMeetingMin
	}
	if c.MaxResults <= 0 {
		c.MaxResults = defaultMaxResults
	}
	if c.FrontendURL == "" {
		c.FrontendURL = defaultFrontendURL
	}
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{c.FrontendURL}
	}
	if c.TokenDir == "" {
		c.TokenDir = defaultTokenDir
	}
	if c.TokenSweep == "" {
		c.TokenSweep = defaultTokenSweep
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	switch strings.ToLower(c.Calendar.Backend) {
	case BackendGoogle, BackendICS:
		c.Calendar.Backend = strings.ToLower(c.Calendar.Backend)
	default:
		// Unknown value; the Google backend is the production default.
		c.Calendar.Backend = BackendGoogle
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = defaultCalendarID
	}
	if c.Calendar.ICSDir == "" {
		c.Calendar.ICSDir = defaultICSDir
	}
	if c.Calendar.FeedCacheDir == "" {
		c.Calendar.FeedCacheDir = filepath.Join(c.Calendar.ICSDir, ".feeds")
	}

	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = "http://" + c.Listen + "/oauth2callback"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = defaultLLMTemp
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSec
	}
}

// MeetingDuration is the fixed length of booked meetings.
func (c *Config) MeetingDuration() time.Duration {
	return time.Duration(c.MeetingMinutes) * time.Minute
}

// LLMTimeout bounds a single LLM request.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.New("unknown timezone " + c.Timezone)
	}
	if _, err := cron.ParseStandard(c.TokenSweep); err != nil {
		return errors.New("invalid token_sweep schedule: " + err.Error())
	}
	if c.LLM.APIKey == "" {
		return errors.New("llm api key is empty (set GROQ_API_KEY or OPENAI_API_KEY)")
	}
	if c.Calendar.Backend == BackendGoogle {
		if c.Google.CredentialsPath == "" && (c.Google.ClientID == "" || c.Google.ClientSecret == "") {
			return errors.New("google oauth client is not configured (set GOOGLE_CREDENTIALS_PATH or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET)")
		}
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Secrets are never written by the first-run default; they come from the
// environment via ApplyEnv.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// envOverrides lists the environment variables understood by ApplyEnv.
// Names follow the variables the assistant has always been deployed with.
type envOverrides struct {
	GroqAPIKey      string `envconfig:"GROQ_API_KEY"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	LLMBaseURL      string `envconfig:"OPENAI_API_BASE"`
	LLMModel        string `envconfig:"TAILORTALK_LLM_MODEL"`
	Timezone        string `envconfig:"GOOGLE_CALENDAR_TIMEZONE"`
	TokenDir        string `envconfig:"GOOGLE_TOKEN_DIR"`
	CredentialsPath string `envconfig:"GOOGLE_CREDENTIALS_PATH"`
	ClientID        string `envconfig:"GOOGLE_CLIENT_ID"`
	ClientSecret    string `envconfig:"GOOGLE_CLIENT_SECRET"`
	RedirectURL     string `envconfig:"GOOGLE_REDIRECT_URL"`
	FrontendURL     string `envconfig:"TAILORTALK_FRONTEND_URL"`
	Listen          string `envconfig:"TAILORTALK_LISTEN"`
	Backend         string `envconfig:"TAILORTALK_CALENDAR_BACKEND"`
	LogLevel        string `envconfig:"TAILORTALK_LOG_LEVEL"`
}

// ApplyEnv overlays environment variables (optionally loaded from dotenv
// files) onto c. Missing dotenv files are ignored.
func (c *Config) ApplyEnv(dotenvFiles ...string) error {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.LLM.APIKey, env.OpenAIAPIKey)
	// Groq is the default endpoint, so its key wins when both are present.
	set(&c.LLM.APIKey, env.GroqAPIKey)
	set(&c.LLM.BaseURL, env.LLMBaseURL)
	set(&c.LLM.Model, env.LLMModel)
	set(&c.Timezone, env.Timezone)
	set(&c.TokenDir, env.TokenDir)
	set(&c.Google.CredentialsPath, env.CredentialsPath)
	set(&c.Google.ClientID, env.ClientID)
	set(&c.Google.ClientSecret, env.ClientSecret)
	set(&c.Google.RedirectURL, env.RedirectURL)
	set(&c.FrontendURL, env.FrontendURL)
	set(&c.Listen, env.Listen)
	set(&c.Calendar.Backend, env.Backend)
	set(&c.LogLevel, env.LogLevel)

	c.Normalize()
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// and a rename, leaving the final file with 0600 permissions.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tailortalk-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9@._-]+`)

// UserFileName maps a user identity to a stable file name with the given
// extension. Distinct identities never share a name.
func UserFileName(user, ext string) string {
	key := strings.ToLower(strings.TrimSpace(user))
	sum := sha256.Sum256([]byte(key))

	name := strings.Trim(unsafeFileChars.ReplaceAllString(key, "_"), "._")
	if len(name) > 48 {
		name = name[:48]
	}
	if name == "" {
		name = "user"
	}
	return name + "-" + hex.EncodeToString(sum[:6]) + ext
}
