package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nextlevelbuilder/mingle/internal/channels/telegram"
	"github.com/nextlevelbuilder/mingle/internal/config"
	"github.com/nextlevelbuilder/mingle/internal/dispatcher"
	"github.com/nextlevelbuilder/mingle/internal/engine"
	"github.com/nextlevelbuilder/mingle/internal/humanizer"
	"github.com/nextlevelbuilder/mingle/internal/janitor"
	"github.com/nextlevelbuilder/mingle/internal/llm"
	"github.com/nextlevelbuilder/mingle/internal/onebot"
	"github.com/nextlevelbuilder/mingle/internal/ratelimit"
	"github.com/nextlevelbuilder/mingle/internal/sessions"
	"github.com/nextlevelbuilder/mingle/internal/skills"
	"github.com/nextlevelbuilder/mingle/internal/store"
	"github.com/nextlevelbuilder/mingle/internal/tracing"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.OTLPEndpoint, Version)
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	client, err := llm.New(llm.Config{
		APIURL:       cfg.APIURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		WorkingModel: cfg.WorkingModel,
		Multimodal:   cfg.IsMultimodal,
		Temperature:  cfg.Temperature,
	})
	if err != nil {
		slog.Error("failed to create llm client", "error", err)
		os.Exit(1)
	}

	sess := sessions.NewManager(st, cfg.MaxSessions)
	limiter := ratelimit.New(cfg.RateLimit)
	registry := skills.NewRegistry()

	memory := humanizer.NewMemory(client, client, st, cfg.Memory)
	topics := humanizer.NewTopics(st, client, cfg.Topic)
	planner := humanizer.NewPlanner(client, cfg.Planner)
	expressions := humanizer.NewExpressions(st, client, cfg.Expression)
	emojis := humanizer.NewEmojis(st, client, client, cfg.Emoji)
	freq := humanizer.NewFrequency(cfg.Frequency)
	typos := humanizer.NewTypos(cfg.Typo)

	if cfg.Emoji.Enabled && cfg.Emoji.EmojiDir != "" {
		if err := emojis.ScanDir(ctx); err != nil {
			slog.Warn("emoji dir scan failed", "dir", cfg.Emoji.EmojiDir, "error", err)
		}
	}

	eng := engine.New(client, st, registry, emojis)

	newDispatcher := func(gw onebot.Gateway, listeners *dispatcher.Listeners) *dispatcher.Dispatcher {
		return dispatcher.New(cfg, dispatcher.Deps{
			Gateway:     gw,
			Store:       st,
			Sessions:    sess,
			Limiter:     limiter,
			Skills:      registry,
			Engine:      eng,
			Planner:     planner,
			Memory:      memory,
			Topics:      topics,
			Expressions: expressions,
			Emojis:      emojis,
			Frequency:   freq,
			Typos:       typos,
			Listeners:   listeners,
		})
	}

	var dispatchers []*dispatcher.Dispatcher
	sweeps := []janitor.Task{
		{Name: "ratelimit", Cron: "*/5 * * * *", Run: func() int { limiter.Prune(); return 0 }},
		{Name: "skills", Cron: "*/10 * * * *", Run: registry.Sweep},
	}

	if cfg.Gateway.URL != "" {
		listeners := dispatcher.NewListeners()
		var disp *dispatcher.Dispatcher
		obClient := onebot.NewClient(onebot.ClientConfig{
			URL:         cfg.Gateway.URL,
			AccessToken: cfg.Gateway.AccessToken,
		}, func(ev *onebot.Event) {
			disp.HandleEvent(ctx, ev)
		})
		disp = newDispatcher(obClient, listeners)
		dispatchers = append(dispatchers, disp)
		sweeps = append(sweeps, janitor.Task{Name: "listeners", Cron: "* * * * *", Run: listeners.Sweep})

		go func() {
			if err := obClient.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("gateway client stopped", "error", err)
				stop()
			}
		}()
	}

	var tg *telegram.Gateway
	if cfg.Gateway.Telegram.Token != "" {
		tg, err = telegram.New(cfg.Gateway.Telegram.Token)
		if err != nil {
			slog.Error("failed to create telegram gateway", "error", err)
			os.Exit(1)
		}
		listeners := dispatcher.NewListeners()
		tgDisp := newDispatcher(tg, listeners)
		dispatchers = append(dispatchers, tgDisp)
		sweeps = append(sweeps, janitor.Task{Name: "tg-listeners", Cron: "* * * * *", Run: listeners.Sweep})

		if err := tg.Run(ctx, func(ctx context.Context, ev *onebot.Event) {
			tgDisp.HandleEvent(ctx, ev)
		}); err != nil {
			slog.Error("failed to start telegram gateway", "error", err)
			os.Exit(1)
		}
	}

	if len(dispatchers) == 0 {
		slog.Error("no gateway configured: set gateway.url or gateway.telegram.token")
		os.Exit(1)
	}

	go janitor.New(sweeps...).Start(ctx)

	err = config.Watch(ctx, cfgPath, func(next *config.Config) {
		for _, d := range dispatchers {
			d.UpdateConfig(next)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	}

	slog.Info("mingle is up", "version", Version, "model", cfg.Model)
	<-ctx.Done()

	slog.Info("shutting down, draining chat tasks")
	if tg != nil {
		tg.Stop()
	}
	for _, d := range dispatchers {
		d.Wait()
	}
}
