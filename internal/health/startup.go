// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/ManuGH/farmgw/internal/config"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment and dependencies before starting the daemon.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	// 1. Data Directory Permissions
	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	// 2. Targeted Validations
	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// 3. External executables (warn-only: missing binaries disable their
	// subsystem, they never stop the gateway)
	checkExecutables(logger, cfg)

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	// Check if directory exists
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("✓ Data directory is writable")
	return nil
}

// checkTargetedValidations performs security and runtime-critical validations
func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	// a. Listen Address (Parseable)
	if cfg.ListenAddr != "" {
		if err := checkAddress(cfg.ListenAddr); err != nil {
			return fmt.Errorf("invalid gateway listen address %q: %w", cfg.ListenAddr, err)
		}
		logger.Info().Str("addr", cfg.ListenAddr).Msg("✓ Gateway listen address is valid")
	}

	// b. Relay API Address (Loopback expected)
	if cfg.RelayAPIAddr != "" {
		if err := checkAddress(cfg.RelayAPIAddr); err != nil {
			return fmt.Errorf("invalid relay API address %q: %w", cfg.RelayAPIAddr, err)
		}
		host, _, _ := net.SplitHostPort(cfg.RelayAPIAddr)
		if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
			logger.Warn().
				Str("addr", cfg.RelayAPIAddr).
				Msg("relay API address is not loopback; the relay API is unauthenticated")
		}
		logger.Info().Str("addr", cfg.RelayAPIAddr).Msg("✓ Relay API address is valid")
	}

	// c. Credentials file must exist and parse; the API key requirement is
	// enforced by the loader itself.
	if _, err := config.LoadCredentials(cfg.CredentialsPath); err != nil {
		return fmt.Errorf("credentials check failed: %w", err)
	}
	logger.Info().Str("path", cfg.CredentialsPath).Msg("✓ Credentials file is usable")

	return nil
}

func checkAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// checkExecutables looks up the external binaries. Absence is reported but
// never fatal: the owning subsystem stays off and the gateway runs on.
func checkExecutables(logger zerolog.Logger, cfg config.AppConfig) {
	if cfg.RelayBin != "" {
		if _, err := exec.LookPath(cfg.RelayBin); err != nil {
			logger.Warn().
				Str("bin", cfg.RelayBin).
				Msg("relay binary not found; camera relay subsystem will be unavailable")
		} else {
			logger.Info().Str("bin", cfg.RelayBin).Msg("✓ Relay binary available")
		}
	}

	if cfg.TunnelBin != "" {
		if _, err := exec.LookPath(cfg.TunnelBin); err != nil {
			logger.Warn().
				Str("bin", cfg.TunnelBin).
				Msg("tunnel binary not found; tunnel subsystem will be unavailable")
		} else {
			logger.Info().Str("bin", cfg.TunnelBin).Msg("✓ Tunnel binary available")
		}
	}
}
