package server

import (
	"fmt"

	"github.com/Elenore23/dshackle/internal/config"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// StartMetricsServer exposes /metrics and /healthz on their own port. Apart
// from the optional pprof listener in cmd/dshackle, it is the only HTTP
// surface this module owns; the data plane is reached only
// through the NativeCallService/PeerHeadSource interface contracts.
func StartMetricsServer(cfg *config.ServerConfig) {
	if cfg.MetricsPort == 0 {
		log.Warn().Msg("metrics server is disabled")
		return
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echoprometheus.NewMiddleware(config.AppName))
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "ok")
	})

	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	log.Info().Msgf("starting metrics server on %s", addr)
	if err := e.Start(addr); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
