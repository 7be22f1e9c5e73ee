package transcoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tierNames(tiers []Tier) []string {
	names := make([]string, 0, len(tiers))
	for _, tier := range tiers {
		names = append(names, tier.Name)
	}
	return names
}

func TestSelectTiers(t *testing.T) {
	tests := []struct {
		name         string
		sourceHeight int
		want         []string
	}{
		{"below lowest tier", 144, []string{}},
		{"exactly 240p", 240, []string{"240p"}},
		{"between 240p and 360p", 300, []string{"240p"}},
		{"480p source", 480, []string{"240p", "360p", "480p"}},
		{"720p source", 720, []string{"240p", "360p", "480p", "720p"}},
		{"1080p source", 1080, []string{"240p", "360p", "480p", "720p", "1080p"}},
		{"4k source", 2160, []string{"240p", "360p", "480p", "720p", "1080p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tierNames(SelectTiers(Ladder, tt.sourceHeight)))
		})
	}
}

func TestSelectTiersNeverUpscales(t *testing.T) {
	for height := 0; height <= 2200; height += 10 {
		for _, tier := range SelectTiers(Ladder, height) {
			if tier.Height > height {
				t.Fatalf("tier %s (height %d) selected for %dp source", tier.Name, tier.Height, height)
			}
		}
	}
}

func TestLadderOrderAndBandwidth(t *testing.T) {
	want := map[string]int64{
		"240p":  400000,
		"360p":  800000,
		"480p":  1200000,
		"720p":  2500000,
		"1080p": 4500000,
	}

	for i, tier := range Ladder {
		if i > 0 {
			assert.Greater(t, tier.Height, Ladder[i-1].Height, "ladder must be ascending")
		}
		assert.Equal(t, want[tier.Name], tier.Bandwidth(), tier.Name)
	}
	assert.Equal(t, "426x240", Ladder[0].Resolution())
}

func TestParseBitrate(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"400k", 400000, false},
		{"1200K", 1200000, false},
		{"2.5M", 2500000, false},
		{"96000", 96000, false},
		{"", 0, true},
		{"fast", 0, true},
		{"-5k", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBitrate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
