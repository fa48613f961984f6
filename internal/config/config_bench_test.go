package config

import (
	"testing"
)

const benchConfig = minimalConfig + `
[models.materials]
base_url = "https://api.example.com/v1"
model_name = "test-model-2"
temperature = 0.8

[credits]
enabled = true
ledger_path = "ledger.db"

[editing]
countdown_ticks = 30

[[safety]]
category = "HARM_CATEGORY_HARASSMENT"
threshold = "BLOCK_ONLY_HIGH"
`

func BenchmarkParse(b *testing.B) {
	data := []byte(benchConfig)
	for b.Loop() {
		if _, _, err := Parse(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkValidate(b *testing.B) {
	cfg := validConfig()
	for b.Loop() {
		if err := cfg.Validate(); err != nil {
			b.Fatal(err)
		}
		if err := cfg.ValidateInputs(); err != nil {
			b.Fatal(err)
		}
	}
}
