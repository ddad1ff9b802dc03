package main

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// Test locale detection
func TestDetectSystemLocale(t *testing.T) {
	testCases := []struct {
		name           string
		lang           string
		lcAll          string
		lcMessages     string
		expectedLocale string
	}{
		{
			name:           "English US locale from LANG",
			lang:           "en_US.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "Traditional Chinese locale from LANG",
			lang:           "zh_TW.UTF-8",
			expectedLocale: "zh_TW",
		},
		{
			name:           "LANG takes precedence when both LANG and LC_ALL are set",
			lang:           "en_US.UTF-8",
			lcAll:          "zh_TW.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "LC_ALL used when LANG is empty",
			lcAll:          "zh_TW.UTF-8",
			expectedLocale: "zh_TW",
		},
		{
			name:           "LC_MESSAGES used last",
			lcMessages:     "zh_TW",
			expectedLocale: "zh_TW",
		},
		{
			name:           "Fallback to en_US when empty",
			expectedLocale: "en_US",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LANG", tc.lang)
			t.Setenv("LC_ALL", tc.lcAll)
			t.Setenv("LC_MESSAGES", tc.lcMessages)

			detectedLocale := DetectSystemLocale()

			if detectedLocale != tc.expectedLocale {
				t.Errorf("Expected locale '%s', got '%s'", tc.expectedLocale, detectedLocale)
			}
		})
	}
}

func TestLoadLocale(t *testing.T) {
	t.Run("Load bundled locale", func(t *testing.T) {
		locale, err := LoadLocale("zh_TW")
		if err != nil {
			t.Fatalf("LoadLocale failed: %v", err)
		}
		if locale.locale != "zh_TW" {
			t.Errorf("Expected locale 'zh_TW', got '%s'", locale.locale)
		}
		if locale.translations["app_title"] == "" {
			t.Error("Expected app_title translation")
		}
	})

	t.Run("Load non-existent locale", func(t *testing.T) {
		if _, err := LoadLocale("xx_XX"); err == nil {
			t.Error("Expected error for missing locale")
		}
	})
}

func TestInitLocaleFallback(t *testing.T) {
	originalLocale := globalLocale
	defer func() {
		globalLocale = originalLocale
	}()

	t.Setenv("LANG", "xx_XX.UTF-8")
	if err := InitLocale(); err != nil {
		t.Fatalf("InitLocale failed: %v", err)
	}
	if GetLocale() != fallbackLocale {
		t.Errorf("Expected fallback locale '%s', got '%s'", fallbackLocale, GetLocale())
	}
}

// Test T() translation function
func TestTranslationFunction(t *testing.T) {
	testLocale := &Locale{
		translations: map[string]string{
			"simple_key":          "Simple Translation",
			"key_with_param":      "Hello, %s!",
			"key_with_two_params": "Event %s has %d tickets",
		},
		locale: "test",
	}

	originalLocale := globalLocale
	globalLocale = testLocale
	defer func() {
		globalLocale = originalLocale
	}()

	testCases := []struct {
		name           string
		key            string
		params         []interface{}
		expectedOutput string
	}{
		{
			name:           "Simple translation",
			key:            "simple_key",
			expectedOutput: "Simple Translation",
		},
		{
			name:           "Translation with one parameter",
			key:            "key_with_param",
			params:         []interface{}{"World"},
			expectedOutput: "Hello, World!",
		},
		{
			name:           "Translation with two parameters",
			key:            "key_with_two_params",
			params:         []interface{}{"evt1", 5},
			expectedOutput: "Event evt1 has 5 tickets",
		},
		{
			name:           "Missing key returns key itself",
			key:            "nonexistent_key",
			expectedOutput: "nonexistent_key",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := T(tc.key, tc.params...)

			if result != tc.expectedOutput {
				t.Errorf("Expected '%s', got '%s'", tc.expectedOutput, result)
			}
		})
	}
}

func TestGetLocale(t *testing.T) {
	originalLocale := globalLocale
	defer func() {
		globalLocale = originalLocale
	}()

	globalLocale = nil
	if result := GetLocale(); result != "en_US" {
		t.Errorf("Expected default locale 'en_US' when globalLocale is nil, got '%s'", result)
	}

	globalLocale = &Locale{
		translations: map[string]string{},
		locale:       "zh_TW",
	}
	if result := GetLocale(); result != "zh_TW" {
		t.Errorf("Expected locale 'zh_TW', got '%s'", result)
	}
}

func TestTranslationWithNilGlobalLocale(t *testing.T) {
	originalLocale := globalLocale
	globalLocale = nil
	defer func() {
		globalLocale = originalLocale
	}()

	if result := T("test_key"); result != "test_key" {
		t.Errorf("Expected T() to return key when globalLocale is nil, got '%s'", result)
	}
}

// Every bundled locale must carry the same keys with the same verbs.
func TestBundledLocalesMatch(t *testing.T) {
	load := func(name string) map[string]string {
		data, err := bundledLocales.ReadFile("lang/" + name + ".yaml")
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		var m map[string]string
		if err := yaml.Unmarshal(data, &m); err != nil {
			t.Fatalf("Failed to parse %s: %v", name, err)
		}
		return m
	}

	en := load("en_US")
	zh := load("zh_TW")

	if len(en) == 0 {
		t.Fatal("en_US has no translations")
	}
	for key, value := range en {
		other, ok := zh[key]
		if !ok {
			t.Errorf("zh_TW is missing key %s", key)
			continue
		}
		if strings.Count(value, "%") != strings.Count(other, "%") {
			t.Errorf("Key %s has mismatched format verbs: %q vs %q", key, value, other)
		}
	}
	for key := range zh {
		if _, ok := en[key]; !ok {
			t.Errorf("en_US is missing key %s", key)
		}
	}
}
