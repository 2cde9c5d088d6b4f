package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tailortalk/internal/agent"
	"tailortalk/internal/auth"
	"tailortalk/internal/calendar"
	"tailortalk/internal/config"
	"tailortalk/internal/llm"
	appLog "tailortalk/internal/log"
	"tailortalk/internal/metrics"
	"tailortalk/internal/web"
)

const version = "1.0.0"

type flagConfig struct {
	configPath string
	dotenvPath string
	listen     string
	backend    string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.dotenvPath); err != nil {
		appLog.Error("failed to apply environment", err, "dotenv", flags.dotenvPath)
		os.Exit(1)
	}

	// CLI flags override config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.backend != "" {
		conf.Calendar.Backend = flags.backend
	}
	conf.Normalize()

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.SetFormat(conf.LogFormat)
	appLog.Info("tailortalk starting", "version", version)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"backend", conf.Calendar.Backend,
		"llm_base_url", conf.LLM.BaseURL,
		"llm_model", conf.LLM.Model,
		"meeting_minutes", conf.MeetingMinutes,
		"max_results", conf.MaxResults,
		"token_dir", conf.TokenDir,
		"subscriptions", len(conf.Calendar.Subscriptions),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		appLog.Error("tailortalk exited with error", err)
		os.Exit(1)
	}
	appLog.Info("tailortalk exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	loc := conf.Location()

	completer, err := llm.New(llm.Options{
		APIKey:      conf.LLM.APIKey,
		BaseURL:     conf.LLM.BaseURL,
		Model:       conf.LLM.Model,
		Temperature: conf.LLM.Temperature,
		Timeout:     conf.LLMTimeout(),
	})
	if err != nil {
		return err
	}

	var (
		gateway agent.CalendarGateway
		gate    web.Gate
		login   web.LoginFlow
		sweeper *auth.Sweeper
	)

	switch conf.Calendar.Backend {
	case config.BackendICS:
		var opts []calendar.ICSOption
		if len(conf.Calendar.Subscriptions) > 0 {
			fetcher := calendar.NewFeedFetcher(conf.Calendar.FeedCacheDir, nil)
			opts = append(opts, calendar.WithSubscriptions(fetcher, conf.Calendar.Subscriptions))
		}
		gateway = calendar.NewICSGateway(conf.Calendar.ICSDir, loc, conf.ProductName, opts...)
		gate = auth.OpenGate{}
	default:
		oc, err := auth.OAuthConfig(conf.Google)
		if err != nil {
			return err
		}
		manager := auth.NewManager(oc, auth.NewTokenStore(conf.TokenDir))
		gateway = calendar.NewGoogleGateway(manager, conf.Calendar.CalendarID)
		gate = manager
		login = manager

		sweeper, err = auth.NewSweeper(manager, conf.TokenSweep, loc)
		if err != nil {
			return err
		}
	}

	dispatcher := agent.NewDispatcher(gateway, agent.NewTimeResolver(), agent.Settings{
		Location:        loc,
		TimezoneLabel:   conf.Timezone,
		ProductName:     conf.ProductName,
		MeetingDuration: conf.MeetingDuration(),
		MaxResults:      conf.MaxResults,
	})
	controller := agent.NewController(completer, dispatcher, conf.ProductName)

	srv := web.NewServer(web.Options{
		Agent:       controller,
		Gate:        gate,
		Login:       login,
		ProductName: conf.ProductName,
		FrontendURL: conf.FrontendURL,
		CORSOrigins: conf.CORSOrigins,
		Metrics:     metrics.Handler(),
	})

	if sweeper != nil {
		sweeper.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sweeper.Stop(stopCtx)
		}()
	}

	return srv.Serve(ctx, conf.Listen)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.dotenvPath, "env-file", ".env", "Optional dotenv file with secrets")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.backend, "backend", "", "Calendar backend: google or ics (overrides config if set)")

	flag.Parse()

	return cfg
}
