package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv exports the variables of each existing file into the process
// environment. An empty path, or no paths, means ".env". Variables already
// set, including those from an earlier file, are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{""}
	}
	var present []string
	for _, p := range paths {
		if p == "" {
			p = ".env"
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		present = append(present, p)
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// LoadConfig reads envPath (see LoadDotEnv) and the environment into a
// validated AppConfig.
func LoadConfig(envPath string) (AppConfig, error) {
	if err := LoadDotEnv(envPath); err != nil {
		return AppConfig{}, err
	}
	env, err := LoadFromEnv()
	if err != nil {
		return AppConfig{}, err
	}
	cfg, err := env.ToAppConfig()
	if err != nil {
		return AppConfig{}, err
	}
	return cfg, cfg.Validate()
}
