package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Validate validates the settings shared by every command.
func Validate(config *Config) error {
	switch config.LLM.Provider {
	case "openai", "anthropic", "claude", "gemini", "ollama":
	case "":
		return fmt.Errorf("llm provider is required")
	default:
		return fmt.Errorf("unsupported llm provider: %s", config.LLM.Provider)
	}

	if config.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if config.LLM.Temperature < 0 || config.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be between 0 and 2, got %v", config.LLM.Temperature)
	}
	if config.Agent.IterationLimit < 1 {
		return fmt.Errorf("agent iteration_limit must be at least 1")
	}
	if config.Agent.WorkspaceRoot == "" {
		return fmt.Errorf("agent workspace_root is required")
	}

	switch config.Dispatch.Launcher {
	case LauncherGoroutine, LauncherExec:
	case LauncherRiver:
		if !config.Database.URL.IsSet() {
			return fmt.Errorf("the river launcher requires database.url")
		}
	default:
		return fmt.Errorf("unsupported dispatch launcher: %s", config.Dispatch.Launcher)
	}

	return nil
}

// ValidateRole checks everything a coder, reviewer or fixer run needs before
// any remote call is made.
func ValidateRole(config *Config) error {
	if err := Validate(config); err != nil {
		return err
	}

	var errs []error
	if !config.LLM.APIKey.IsSet() && config.LLM.Provider != "ollama" {
		errs = append(errs, errors.New("LLM_API_KEY is missing"))
	}
	if !config.GitHub.Token.IsSet() {
		errs = append(errs, errors.New("GITHUB_TOKEN is missing"))
	}
	if err := ValidateRepository(config.GitHub.Repository); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateServer checks the GitHub App settings the webhook listener needs.
func ValidateServer(config *Config) error {
	if err := Validate(config); err != nil {
		return err
	}

	var errs []error
	if config.GitHub.AppID <= 0 {
		errs = append(errs, errors.New("github app_id is required"))
	}
	if !config.GitHub.WebhookSecret.IsSet() {
		errs = append(errs, errors.New("github webhook_secret is required"))
	}
	if config.GitHub.PrivateKeyPath == "" {
		errs = append(errs, errors.New("github private_key_path is required"))
	} else if _, err := os.Stat(config.GitHub.PrivateKeyPath); err != nil {
		errs = append(errs, fmt.Errorf("github private key: %w", err))
	}
	if config.Server.Addr == "" {
		errs = append(errs, errors.New("server addr is required"))
	}
	return errors.Join(errs...)
}

// ValidateRepository checks the owner/name form.
func ValidateRepository(repo string) error {
	if repo == "" {
		return errors.New("GITHUB_REPOSITORY is missing")
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("repository must be in owner/name form, got %q", repo)
	}
	return nil
}

// SplitRepository returns the owner and name of an owner/name string.
func SplitRepository(repo string) (string, string) {
	owner, name, _ := strings.Cut(repo, "/")
	return owner, name
}
