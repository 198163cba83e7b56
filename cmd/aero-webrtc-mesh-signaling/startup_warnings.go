package main

import (
	"log/slog"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-mesh-signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	// Warn if the signaling message cap is unusually large, since SDP offers and
	// ICE candidates comfortably fit well under 64KiB and oversized frames only
	// increase per-connection allocation exposure.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (weakens oversized frame DoS hardening)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessagesPerSecond > 500 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is very large (weakens per-connection flood hardening)",
			"warning_code", "max_signaling_messages_per_second_large",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	// Static long-lived TURN credentials end up embedded in every client's ICE
	// config; ephemeral TURN REST credentials are the safer setup in prod.
	if cfg.Mode == config.ModeProd && !cfg.TURNREST.Enabled() && hasTURNWithStaticCredentials(cfg) {
		logger.Warn("startup security warning: TURN servers configured with static credentials while --mode=prod (prefer TURN_REST_SHARED_SECRET for ephemeral credentials)",
			"warning_code", "turn_static_credentials_in_prod",
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup security warning: ICE server configuration is invalid; /webrtc/ice will report not ready until fixed",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}
}

func hasTURNWithStaticCredentials(cfg config.Config) bool {
	for _, srv := range cfg.ICEServers {
		cred, _ := srv.Credential.(string)
		if srv.Username == "" && cred == "" {
			continue
		}
		for _, u := range srv.URLs {
			lower := strings.ToLower(strings.TrimSpace(u))
			if strings.HasPrefix(lower, "turn:") || strings.HasPrefix(lower, "turns:") {
				return true
			}
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
