package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/ncecere/codegen_gateway/internal/config"
)

const redacted = "[redacted]"

func main() {
	configFile := flag.String("config", "", "path to codegen.yaml")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(redact(*cfg)); err != nil {
		log.Fatalf("encode config: %v", err)
	}
	if !cfg.Provider.Configured() {
		log.Printf("warning: %s not configured", cfg.Provider.CredentialName())
	}
}

func redact(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Database.URL)
	mask(&cfg.Redis.URL)
	mask(&cfg.Identity.JWTSecret)
	mask(&cfg.Provider.OpenAIKey)
	mask(&cfg.Provider.AzureKey)
	mask(&cfg.Provider.GeminiKey)
	mask(&cfg.Provider.GCPJSONCredentials)
	mask(&cfg.Stripe.APIKey)
	mask(&cfg.Stripe.WebhookSecret)
	return cfg
}
