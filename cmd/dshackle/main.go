package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Elenore23/dshackle/internal/cache"
	"github.com/Elenore23/dshackle/internal/config"
	"github.com/Elenore23/dshackle/internal/grpcapi"
	"github.com/Elenore23/dshackle/internal/server"
	"github.com/Elenore23/dshackle/internal/upstreams"
	"github.com/Elenore23/dshackle/pkg/chains"
	_ "github.com/Elenore23/dshackle/pkg/logger"
	"github.com/Elenore23/dshackle/pkg/pyroscope"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"
)

func main() {
	flag.Parse()

	appConfig, err := config.NewAppConfig()
	if err != nil {
		log.Panic().Err(err).Msg("unable to parse the config file")
	}

	mainCtx, mainCtxCancel := context.WithCancel(context.Background())

	sink := buildCacheSink(appConfig.CacheConfig)
	router := grpcapi.NewRouter()

	byChain := map[chains.Chain][]*config.Upstream{}
	for _, up := range appConfig.UpstreamConfig.Upstreams {
		chain := chains.GetChain(up.ChainName)
		if chain == chains.UnknownChain {
			log.Panic().Msgf("unknown chain '%s' for upstream %s", up.ChainName, up.Id)
		}
		byChain[chain.Chain] = append(byChain[chain.Chain], up)
	}

	for chain, ups := range byChain {
		ms := upstreams.NewMultistream(mainCtx, chain, sink)
		for _, up := range ups {
			var member upstreams.Upstream
			if up.PeerUrl != "" {
				member = upstreams.NewPeerUpstream(mainCtx, up, chain, router)
			} else {
				member = upstreams.NewNativeUpstream(mainCtx, up, chain)
			}
			ms.AddUpstream(member)
		}
		ms.Start()
		router.Register(chain, ms)
	}

	go func() {
		if appConfig.ServerConfig.PprofPort != 0 {
			pprofServer := http.Server{
				Addr: fmt.Sprintf("localhost:%d", appConfig.ServerConfig.PprofPort),
			}
			log.Info().Msgf("starting pprof server on port %d", appConfig.ServerConfig.PprofPort)
			if pprofErr := pprofServer.ListenAndServe(); pprofErr != nil {
				log.Error().Err(pprofErr).Msg("pprof server couldn't start")
			}
		} else {
			log.Warn().Msg("pprof server is disabled")
		}
	}()

	if appConfig.ServerConfig.Pyroscope != nil && appConfig.ServerConfig.Pyroscope.Enabled {
		if err = pyroscope.InitPyroscope(fmt.Sprintf("%s-namespace", config.AppName), config.AppName, appConfig.ServerConfig.Pyroscope); err != nil {
			log.Warn().Err(err).Msg("error during pyroscope initialization")
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info().Msgf("got signal %v", sig)
		mainCtxCancel()
	}()

	go server.StartMetricsServer(appConfig.ServerConfig)

	<-mainCtx.Done()
	time.Sleep(100 * time.Millisecond)
}

func buildCacheSink(cfg *config.CacheConfig) upstreams.CacheSink {
	if cfg == nil {
		return nil
	}
	switch cfg.Type {
	case "redis":
		if cfg.Redis == nil {
			log.Panic().Msg("cache type is redis but no redis config was provided")
		}
		return cache.NewRedisSink(cfg.Redis, cfg.Ttl)
	default:
		size := cfg.Size
		if size == 0 {
			size = 10_000
		}
		sink, err := cache.NewLRUSink(size, cfg.Ttl)
		if err != nil {
			log.Panic().Err(err).Msg("unable to create the in-memory cache sink")
		}
		return sink
	}
}
