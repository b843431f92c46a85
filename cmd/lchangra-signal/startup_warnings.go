package main

import (
	"log/slog"
	"slices"

	"github.com/lchangra/lchangra-signal/internal/config"
	"github.com/lchangra/lchangra-signal/internal/origin"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, origin.Any) {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any website can open signaling sessions)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is unset while --mode=prod (only same-host pages can connect)",
			"warning_code", "allowed_origins_unset_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: max connections is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && !hasTURNServer(cfg) {
		logger.Warn("startup security warning: TURN REST is enabled but no TURN URLs are configured (credentials are never handed out)",
			"warning_code", "turn_rest_without_turn_urls",
			"ice_servers", len(cfg.ICEServers),
			"mode", cfg.Mode,
		)
	}

	if !cfg.TURNREST.Enabled() && hasTURNServer(cfg) {
		logger.Warn("startup security warning: static TURN credentials are served to every client",
			"warning_code", "turn_static_credentials",
			"mode", cfg.Mode,
		)
	}
}

func hasTURNServer(cfg config.Config) bool {
	return slices.ContainsFunc(cfg.ICEServers, config.IsTURNServer)
}
