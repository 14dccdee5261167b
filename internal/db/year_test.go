package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Sandiman184/e-raport/internal/errors"
)

func TestParseYear(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2024/2025", "2024/2025", false},
		{" 2023/2024 ", "2023/2024", false},
		{"", "", true},
		{"   ", "", true},
		{"2024", "", true},
		{"2024-2025", "", true},
		{"2024/2026", "", true},
		{"2025/2024", "", true},
		{"24/25", "", true},
		{"2024/2025; DROP TABLE grades", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseYear(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrInvalidScope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
