package config

import (
	"fmt"
	"strings"

	"vaultd/engine"
)

func validate(cfg Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one oracle source must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Sources))
	for _, src := range cfg.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return fmt.Errorf("oracle source missing name")
		}
		if strings.TrimSpace(src.Type) == "" {
			return fmt.Errorf("oracle source %s missing type", name)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate oracle source %s", name)
		}
		seen[name] = struct{}{}
	}
	switch cfg.Auth.Mode {
	case AuthModeNone:
	case AuthModeToken:
		if strings.TrimSpace(cfg.Auth.BearerToken) == "" {
			return fmt.Errorf("auth mode token requires bearer_token")
		}
	case AuthModeJWT:
		if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
			return fmt.Errorf("auth mode jwt requires jwt_secret")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	for _, flow := range cfg.PausedFlows {
		switch flow {
		case engine.FlowDeposit, engine.FlowMint, engine.FlowBurn, engine.FlowRedeem, engine.FlowLiquidate:
		default:
			return fmt.Errorf("unknown paused flow %q", flow)
		}
	}
	return nil
}
