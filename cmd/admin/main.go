// Command admin runs operator tasks against the same database as the API
// server. It reads the same configuration (.env and environment).
//
// USAGE:
//
//	admin trending -slug compost-your-kitchen-scraps-alice -owner alice@example.com
//	admin trending -slug compost-your-kitchen-scraps-alice -owner alice@example.com -off
//
// Trending is never set through the public API; this is the only way to
// flag a hack.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/ecohacks/internal/cache"
	"github.com/sakif/ecohacks/internal/config"
	"github.com/sakif/ecohacks/internal/logging"
	"github.com/sakif/ecohacks/internal/server"
	"github.com/sakif/ecohacks/internal/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] != "trending" {
		return errors.New("usage: admin trending -slug <slug> -owner <email> [-off]")
	}

	fs := flag.NewFlagSet("trending", flag.ContinueOnError)
	slug := fs.String("slug", "", "slug of the hack")
	owner := fs.String("owner", "", "email of the hack's owner")
	off := fs.Bool("off", false, "remove the trending flag instead of setting it")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *slug == "" || *owner == "" {
		return errors.New("-slug and -owner are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := server.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// the API caches listings; drop them so the change shows up at once
	var c *cache.Cache
	if cfg.RedisURL != "" {
		c, err = cache.New(ctx, cfg.RedisURL, cfg.ListCacheTTL, logger)
		if err != nil {
			logger.Warn("cache unavailable, listings refresh when their TTL expires",
				slog.String("error", err.Error()))
		}
		defer c.Close()
	}

	hack, err := service.NewHackService(store, c, logger).SetTrending(ctx, *slug, *owner, !*off)
	if err != nil {
		return err
	}

	fmt.Printf("%s trending=%t\n", hack.Slug, hack.Trending)
	return nil
}
