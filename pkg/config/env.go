package config

import (
	"log"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file at path into the process environment before
// LoadFromEnv reads it. A missing file is not fatal — the process falls back
// to whatever the environment already provides.
func LoadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil {
		log.Printf("config: could not load %s: %v (continuing with existing environment)", path, err)
	}
}
