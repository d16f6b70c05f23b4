package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/auth-relay/internal"
	"github.com/dgellow/auth-relay/internal/config"
	"github.com/dgellow/auth-relay/internal/crypto"
	"github.com/dgellow/auth-relay/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"platform":                  "google",
		"stage":                     "dev",
		"addr":                      ":8080",
		"backendUrl":                "https://app.yourcompany.com",
		"authenticationRoutePrefix": "auth",
		"clientId":                  map[string]string{"$env": "CLIENT_ID"},
		"clientSecret":              map[string]string{"$env": "CLIENT_SECRET"},
		"privateKey":                map[string]string{"$env": "PRIVATE_KEY"},
		"identityProviderUrl":       "https://users.yourcompany.com",
		"identityProviderTimeout":   "5s",
		"allowedOrigins":            []string{"https://app.yourcompany.com"},
		"storage": map[string]any{
			"kind":   "dynamodb",
			"table":  "authentication",
			"region": "eu-west-1",
			"ttl":    "15m",
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	printIssues := func(title string, issues []config.ValidationError) {
		if len(issues) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", title, len(issues))
		for _, issue := range issues {
			if issue.Path != "" {
				fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
			} else {
				fmt.Printf("  - %s\n", issue.Message)
			}
		}
	}
	printIssues("Errors", result.Errors)
	printIssues("Warnings", result.Warnings)

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: FAIL (warnings present)")
	default:
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

func loadConfig(path string, fromEnv bool) (config.Config, error) {
	if fromEnv {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

func main() {
	conf := flag.String("config", "", "path to config file")
	fromEnv := flag.Bool("env", false, "read the configuration from environment variables instead of a file")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		if key, err := crypto.GenerateSecureToken(); err == nil {
			fmt.Printf("Suggested PRIVATE_KEY: %s\n", key)
		}
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" && !*fromEnv {
		fmt.Fprintf(os.Stderr, "Error: one of -config or -env is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := loadConfig(*conf, *fromEnv)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := log.SetLogLevel(cfg.LogLevel); err != nil {
		log.LogWarn("Ignoring log level %q: %v", cfg.LogLevel, err)
	}

	log.LogInfoWithFields("main", "Starting auth-relay", map[string]any{
		"version":  BuildVersion,
		"config":   *conf,
		"from_env": *fromEnv,
	})

	ctx := context.Background()
	relay, err := internal.NewAuthRelay(ctx, &cfg)
	if err != nil {
		log.LogError("Failed to create auth relay: %v", err)
		os.Exit(1)
	}

	if err := relay.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
