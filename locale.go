package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var bundledLocales embed.FS

const fallbackLocale = "en_US"

type Locale struct {
	translations map[string]string
	locale       string
}

var globalLocale *Locale

// InitLocale loads the system locale, falling back to en_US.
func InitLocale() error {
	locale := DetectSystemLocale()

	l, err := LoadLocale(locale)
	if err != nil {
		l, err = LoadLocale(fallbackLocale)
		if err != nil {
			return fmt.Errorf("failed to load fallback locale %s: %w", fallbackLocale, err)
		}
	}

	globalLocale = l
	return nil
}

// DetectSystemLocale reads LANG, LC_ALL then LC_MESSAGES.
func DetectSystemLocale() string {
	for _, name := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		if locale := os.Getenv(name); locale != "" {
			// e.g. "zh_TW.UTF-8"
			if code := strings.Split(locale, ".")[0]; code != "" {
				return code
			}
		}
	}
	return fallbackLocale
}

// LoadLocale prefers lang/<locale>.yaml next to the executable so
// translations can be overridden, then the bundled copy.
func LoadLocale(locale string) (*Locale, error) {
	data, err := readLocaleFile(locale)
	if err != nil {
		return nil, err
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale %s: %w", locale, err)
	}

	return &Locale{
		translations: translations,
		locale:       locale,
	}, nil
}

func readLocaleFile(locale string) ([]byte, error) {
	if exePath, err := os.Executable(); err == nil {
		localeFile := filepath.Join(filepath.Dir(exePath), "lang", locale+".yaml")
		if data, err := os.ReadFile(localeFile); err == nil {
			return data, nil
		}
	}

	data, err := bundledLocales.ReadFile("lang/" + locale + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("locale %s not found: %w", locale, err)
	}
	return data, nil
}

// T translates key, formatting params with fmt.Sprintf. Unknown keys are
// returned unchanged.
func T(key string, params ...interface{}) string {
	if globalLocale == nil {
		return key
	}

	translation, ok := globalLocale.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}
	return translation
}

func GetLocale() string {
	if globalLocale == nil {
		return fallbackLocale
	}
	return globalLocale.locale
}
