package server

import (
	"testing"

	"homebridge/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestPortAllocator(t *testing.T) {
	tests := []struct {
		name    string
		ports   *config.PortRange
		enabled bool
		want    []int
	}{
		{
			name:    "sequential until exhausted",
			ports:   &config.PortRange{Start: 52000, End: 52001},
			enabled: true,
			want:    []int{52000, 52001, 0, 0},
		},
		{
			name:    "single port",
			ports:   &config.PortRange{Start: 52100, End: 52100},
			enabled: true,
			want:    []int{52100, 0},
		},
		{
			name: "no range",
			want: []int{0, 0},
		},
		{
			name:  "inverted range",
			ports: &config.PortRange{Start: 52010, End: 52000},
			want:  []int{0},
		},
		{
			name:  "zero start",
			ports: &config.PortRange{Start: 0, End: 10},
			want:  []int{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPortAllocator(tt.ports)
			assert.Equal(t, tt.enabled, p.Enabled())

			var got []int
			for range tt.want {
				got = append(got, p.Next())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
