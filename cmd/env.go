package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/autodev/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Mode     string            // "role" or "server"
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig reports which secrets and identifiers a role run or the
// webhook server would be missing.
func CheckRequiredConfig(cfg *config.Config, server bool) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Mode:     "role",
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	secrets := map[string]config.Secret{
		"llm.api_key":           cfg.LLM.APIKey,
		"github.token":          cfg.GitHub.Token,
		"github.webhook_secret": cfg.GitHub.WebhookSecret,
		"database.url":          cfg.Database.URL,
	}

	required := []string{"github.token", "github.repository"}
	if cfg.LLM.Provider != "ollama" {
		required = append(required, "llm.api_key")
	}
	if server {
		result.Mode = "server"
		required = []string{"github.app_id", "github.webhook_secret", "github.private_key_path"}
	}

	for _, key := range required {
		switch key {
		case "github.repository":
			if cfg.GitHub.Repository == "" {
				result.Missing = append(result.Missing, key)
			} else {
				result.Present[key] = cfg.GitHub.Repository
			}
		case "github.app_id":
			if cfg.GitHub.AppID <= 0 {
				result.Missing = append(result.Missing, key)
			} else {
				result.Present[key] = fmt.Sprint(cfg.GitHub.AppID)
			}
		case "github.private_key_path":
			if _, err := os.Stat(cfg.GitHub.PrivateKeyPath); err != nil {
				result.Missing = append(result.Missing, key)
			} else {
				result.Present[key] = cfg.GitHub.PrivateKeyPath
			}
		default:
			if s := secrets[key]; s.IsSet() {
				result.Present[key] = maskSecret(s.Value())
			} else {
				result.Missing = append(result.Missing, key)
			}
		}
	}

	// Optional but good to check
	if cfg.Database.URL.IsSet() {
		result.Present["database.url"] = maskSecret(cfg.Database.URL.Value())
	} else {
		result.Warnings = append(result.Warnings, "no database.url: review cycles are counted from comments only")
	}
	if server && cfg.Dispatch.Launcher == config.LauncherExec && cfg.Dispatch.Binary == "" {
		result.Warnings = append(result.Warnings, "exec launcher will re-run the current executable")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
	fmt.Printf("Mode: %s\n", result.Mode)
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("✓ Configured settings:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file. Variables already set
// in the process environment win.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
