package commands

import (
	"math"
	"testing"

	"github.com/freightcore/freightcore/pkg/client"
)

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    client.Coordinate
		wantErr bool
	}{
		{
			name:  "full coordinate",
			input: "myapp/1.4.2/linux-x86_64/myapp.tar.gz",
			want:  client.Coordinate{App: "myapp", Version: "1.4.2", Platform: "linux-x86_64", Filename: "myapp.tar.gz"},
		},
		{
			name:    "missing filename",
			input:   "myapp/1.4.2/linux-x86_64",
			wantErr: true,
		},
		{
			name:    "too many components",
			input:   "a/b/c/d/e",
			wantErr: true,
		},
		{
			name:    "empty component",
			input:   "myapp//linux-x86_64/myapp.tar.gz",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCoordinate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCoordinate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseCoordinate(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseUploadCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    client.Coordinate
		wantErr bool
	}{
		{
			name:  "full coordinate keeps explicit filename",
			input: "myapp/1.4.2/linux-x86_64/custom.tar.gz",
			want:  client.Coordinate{App: "myapp", Version: "1.4.2", Platform: "linux-x86_64", Filename: "custom.tar.gz"},
		},
		{
			name:  "three components derive filename",
			input: "myapp/1.4.2/linux-x86_64",
			want:  client.Coordinate{App: "myapp", Version: "1.4.2", Platform: "linux-x86_64", Filename: "local.bin"},
		},
		{
			name:    "too few components",
			input:   "myapp/1.4.2",
			wantErr: true,
		},
		{
			name:    "empty component",
			input:   "myapp//linux-x86_64",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseUploadCoordinate(tt.input, "local.bin")
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUploadCoordinate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseUploadCoordinate(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseByteRange(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *client.ByteRange
		wantErr bool
	}{
		{
			name:  "empty means whole object",
			input: "",
			want:  nil,
		},
		{
			name:  "bounded window",
			input: "0-1024",
			want:  &client.ByteRange{Start: 0, End: 1024},
		},
		{
			name:  "open end",
			input: "1024-",
			want:  &client.ByteRange{Start: 1024, End: math.MaxInt64},
		},
		{
			name:    "no separator",
			input:   "1024",
			wantErr: true,
		},
		{
			name:    "inverted window",
			input:   "10-5",
			wantErr: true,
		},
		{
			name:    "empty window",
			input:   "10-10",
			wantErr: true,
		},
		{
			name:    "negative start",
			input:   "-5-10",
			wantErr: true,
		},
		{
			name:    "garbage",
			input:   "abc-def",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseByteRange(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseByteRange(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("parseByteRange(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("parseByteRange(%q) = %+v, want %+v", tt.input, *got, *tt.want)
			}
		})
	}
}

func TestSelectedLength(t *testing.T) {
	tests := []struct {
		name string
		size int64
		rng  *client.ByteRange
		want int64
	}{
		{"whole object", 1000, nil, 1000},
		{"bounded window", 1000, &client.ByteRange{Start: 100, End: 200}, 100},
		{"end clamped to size", 1000, &client.ByteRange{Start: 900, End: 5000}, 100},
		{"open end", 1000, &client.ByteRange{Start: 250, End: math.MaxInt64}, 750},
		{"start beyond size", 1000, &client.ByteRange{Start: 2000, End: 3000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectedLength(tt.size, tt.rng); got != tt.want {
				t.Errorf("selectedLength(%d, %+v) = %d, want %d", tt.size, tt.rng, got, tt.want)
			}
		})
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{-1, "-"},
		{0, "0B"},
		{512, "512B"},
		{2048, "2.00KiB"},
		{5 * 1024 * 1024, "5.00MiB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := humanBytes(tt.input); got != tt.want {
				t.Errorf("humanBytes(%d) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
