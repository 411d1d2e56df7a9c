package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/handoff-relay/handoff/internal/apikey"
	"github.com/handoff-relay/handoff/internal/config"
)

var (
	errKeyExists  = errors.New("an API key is already configured; use 'handoff-server apikey rotate' to replace it")
	errNoKey      = errors.New("no API key is configured; use 'handoff-server apikey generate' to create one")
	errNotRotated = errors.New("rotation cancelled")

	forceRotate bool
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage the REST API key",
	Long:  `Generate, rotate and inspect the key that protects the admin REST API`,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long:  `Generate a new API key and store its hash in the config file. Writes a default config first if none exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, created, err := generateAPIKey(cfgFile)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Default configuration created at: %s\n\n", cfgFile)
		}
		printKey("New API key generated:", key)
		return nil
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the existing API key",
	Long:  `Replace the existing API key with a new one. The old key stops working once the server restarts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !forceRotate && !confirm(os.Stdin, "WARNING: This will invalidate the current API key.\nContinue? (yes/no): ") {
			return errNotRotated
		}
		key, err := rotateAPIKey(cfgFile)
		if err != nil {
			return err
		}
		printKey("API key rotated successfully:", key)
		fmt.Println("Remember to update all clients using the old API key.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show API key status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigForAPIKey(cfgFile)
		if err != nil {
			return err
		}
		fmt.Print(apiKeyStatus(cfg))
		return nil
	},
}

func init() {
	rotateCmd.Flags().BoolVarP(&forceRotate, "yes", "y", false, "skip the confirmation prompt")

	apikeyCmd.AddCommand(generateCmd)
	apikeyCmd.AddCommand(rotateCmd)
	apikeyCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func printKey(title, key string) {
	fmt.Println(title)
	fmt.Println()
	fmt.Printf("    %s\n", key)
	fmt.Println()
	fmt.Println("IMPORTANT: Save this key securely. It will not be shown again.")
	fmt.Printf("API key hash saved to: %s (mode 0600)\n", cfgFile)
}

func confirm(in io.Reader, prompt string) bool {
	fmt.Print(prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line) == "yes"
}

// generateAPIKey creates the config file if needed and stores a fresh key's
// hash. created reports whether the default config was written.
func generateAPIKey(configPath string) (key string, created bool, err error) {
	if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) {
		if err := os.WriteFile(configPath, []byte(config.DefaultConfigYAML), 0o600); err != nil {
			return "", false, fmt.Errorf("creating default config: %w", err)
		}
		created = true
	} else {
		cfg, err := loadConfigForAPIKey(configPath)
		if err != nil {
			return "", false, err
		}
		if cfg.API.APIKey.Hash != "" {
			return "", false, errKeyExists
		}
	}

	key, err = storeNewKey(configPath)
	return key, created, err
}

func rotateAPIKey(configPath string) (string, error) {
	cfg, err := loadConfigForAPIKey(configPath)
	if err != nil {
		return "", err
	}
	if cfg.API.APIKey.Hash == "" {
		return "", errNoKey
	}
	return storeNewKey(configPath)
}

func storeNewKey(configPath string) (string, error) {
	key, hash, err := apikey.GenerateWithHash()
	if err != nil {
		return "", fmt.Errorf("generating API key: %w", err)
	}
	if err := updateConfigWithAPIKey(configPath, hash, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return "", err
	}
	return key, nil
}

func apiKeyStatus(cfg *config.Config) string {
	var b strings.Builder
	if cfg.API.APIKey.Hash == "" {
		b.WriteString("Status: No API key configured\n")
		return b.String()
	}

	b.WriteString("Status: API key configured\n")
	if cfg.API.APIKey.CreatedAt != "" {
		fmt.Fprintf(&b, "Created: %s\n", cfg.API.APIKey.CreatedAt)
	}
	if !apikey.ValidHash(cfg.API.APIKey.Hash) {
		b.WriteString("Hash: INVALID (regenerate with 'handoff-server apikey rotate')\n")
	}
	return b.String()
}

// loadConfigForAPIKey reads the file without defaults or validation so an
// incomplete config can still be managed
func loadConfigForAPIKey(configPath string) (*config.Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg config.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func updateConfigWithAPIKey(configPath, hash, createdAt string) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	k.Set("api.api_key.hash", hash)
	k.Set("api.api_key.created_at", createdAt)

	out, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(configPath, 0o600)
}
