package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJWTConfig_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     JWTConfig
		wantErr string
	}{
		{"valid", JWTConfig{Secret: "0123456789abcdef", ExpirationHours: 24}, ""},
		{"empty secret", JWTConfig{ExpirationHours: 24}, "cannot be empty"},
		{"short secret", JWTConfig{Secret: "short", ExpirationHours: 24}, "at least 16"},
		{"zero expiration", JWTConfig{Secret: "0123456789abcdef"}, "at least 1 hour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Normalize()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
