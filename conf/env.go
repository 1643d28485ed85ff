package conf

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type EnvConf interface {
	// Loads env variables from .env files and/or OS environment
	Load() error
	// Resolve env variables or fallback
	GetEnv(env, fallback string) string
	// Names of the given env variables that are unset or blank
	Missing(envs ...string) []string
}

func NewEnv(files ...string) EnvConf {
	return &envConf{
		files: files,
	}
}

type envConf struct {
	loaded bool
	files  []string
}

// Load reads the configured .env files (".env" when none were given).
// A missing file is not an error: the OS environment alone is enough.
func (e *envConf) Load() error {
	if e.loaded {
		return nil
	}
	e.loaded = true
	if err := godotenv.Load(e.files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (e *envConf) GetEnv(env, fallback string) string {
	_ = e.Load()
	if value, ok := os.LookupEnv(env); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func (e *envConf) Missing(envs ...string) []string {
	var missing []string
	for _, env := range envs {
		if e.GetEnv(env, "") == "" {
			missing = append(missing, env)
		}
	}
	return missing
}
