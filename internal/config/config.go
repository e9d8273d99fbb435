package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "WARDEN_"

type (
	Config struct {
		TelegramAPIToken string        `env:"TOKEN,required"`
		DefaultLanguage  string        `env:"LANG,default=en"`
		EnabledHandlers  []string      `env:"HANDLERS,default=admin,gatekeeper,reactor"`
		LogLevel         int           `env:"LOG_LEVEL,default=4"`
		DotPath          string        `env:"DOT_PATH,default=~/.warden"`
		StorageURL       string        `env:"STORAGE_URL,default=sqlite://warden.db"`
		MetricsAddr      string        `env:"METRICS_ADDR,default=:2112"`
		AuditJournal     string        `env:"AUDIT_JOURNAL"`
		PlatformTimeout  time.Duration `env:"PLATFORM_TIMEOUT,default=10s"`
		Admins           Admins
		Moderation       Moderation
		Gatekeeper       Gatekeeper
	}

	Admins struct {
		IDs                 []int64 `env:"ADMIN_IDS"`
		IncludeChatManagers bool    `env:"ADMINS_INCLUDE_CHAT_MODERATORS,default=false"`
	}

	Moderation struct {
		WarnLimit    int           `env:"WARN_LIMIT,default=3"`
		FloodLimit   int           `env:"FLOOD_LIMIT,default=5"`
		MuteDuration time.Duration `env:"MUTE_DURATION,default=1h"`
	}

	Gatekeeper struct {
		ChallengeTimeout time.Duration `env:"CAPTCHA_TIMEOUT,default=60s"`
		ExpiryAction     string        `env:"CAPTCHA_EXPIRY_ACTION,default=kick"`
		WelcomeText      string        `env:"WELCOME_TEXT,default=Welcome! Please verify using the button."`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg, err := Process(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

// Process reads the configuration from the given lookuper, all keys prefixed with WARDEN_.
func Process(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper(envPrefix, lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Moderation.WarnLimit < 1:
		return fmt.Errorf("warn limit must be positive, got %d", c.Moderation.WarnLimit)
	case c.Moderation.FloodLimit < 1:
		return fmt.Errorf("flood limit must be positive, got %d", c.Moderation.FloodLimit)
	case c.Moderation.MuteDuration <= 0:
		return fmt.Errorf("mute duration must be positive, got %s", c.Moderation.MuteDuration)
	case c.Gatekeeper.ChallengeTimeout <= 0:
		return fmt.Errorf("captcha timeout must be positive, got %s", c.Gatekeeper.ChallengeTimeout)
	}
	switch strings.ToLower(c.Gatekeeper.ExpiryAction) {
	case "kick", "none":
		c.Gatekeeper.ExpiryAction = strings.ToLower(c.Gatekeeper.ExpiryAction)
	default:
		return fmt.Errorf("unknown captcha expiry action %q", c.Gatekeeper.ExpiryAction)
	}
	return nil
}
