package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// VariableNotFound is returned when a requested variable isn't present.
type VariableNotFound struct {
	VariableName string
}

func (e *VariableNotFound) Error() string {
	return fmt.Sprintf("variable %q not found", e.VariableName)
}

// VariableSource is a strategy for looking up configuration variables.
type VariableSource interface {
	// Load returns all variables available from this source.
	Load() (map[string]string, error)
	// Get returns a single variable value or *VariableNotFound.
	Get(key string) (string, error)
}

// DotEnv reads variables from a .env file.
type DotEnv struct {
	EnvFilePath string
}

// NewDotEnv returns a source backed by the file at path.
func NewDotEnv(path string) *DotEnv {
	return &DotEnv{EnvFilePath: path}
}

// Load reads the whole file on every call.
func (d *DotEnv) Load() (map[string]string, error) {
	return godotenv.Read(d.EnvFilePath)
}

// Get reloads the file and looks up key.
func (d *DotEnv) Get(key string) (string, error) {
	vars, err := d.Load()
	if err != nil {
		return "", err
	}
	if val, ok := vars[key]; ok {
		return val, nil
	}
	return "", &VariableNotFound{VariableName: key}
}

// Environment reads variables from the process environment. Empty values
// count as missing.
type Environment struct{}

// Load returns every non-empty variable of the process environment.
func (Environment) Load() (map[string]string, error) {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && v != "" {
			out[k] = v
		}
	}
	return out, nil
}

// Get looks up key, treating an empty value as unset.
func (Environment) Get(key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	return "", &VariableNotFound{VariableName: key}
}
