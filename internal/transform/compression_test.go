package transform

import (
	"bytes"
	"io"
	"strings"
	"testing"

	apperrors "appbackup/internal/errors"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input    string
		expected Algorithm
		wantErr  bool
	}{
		{"gzip", AlgorithmGzip, false},
		{"gz", AlgorithmGzip, false},
		{"", AlgorithmGzip, false},
		{"zstd", AlgorithmZstd, false},
		{"zstandard", AlgorithmZstd, false},
		{"ZSTD", AlgorithmZstd, false},
		{"  gzip  ", AlgorithmGzip, false},
		{"lz4", AlgorithmNone, true},
		{"bzip2", AlgorithmNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAlgorithm(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.expected {
				t.Errorf("ParseAlgorithm(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCompressionSuffix(t *testing.T) {
	gz, err := NewCompression("gzip", 6)
	if err != nil {
		t.Fatal(err)
	}
	if gz.Suffix() != ".gz" {
		t.Errorf("gzip Suffix() = %q, want .gz", gz.Suffix())
	}
	zst, err := NewCompression("zstd", 3)
	if err != nil {
		t.Fatal(err)
	}
	if zst.Suffix() != ".zst" {
		t.Errorf("zstd Suffix() = %q, want .zst", zst.Suffix())
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	payload := strings.Repeat("INSERT INTO shop_product VALUES (1, 'widget');\n", 200)

	for _, format := range []string{"gzip", "zstd"} {
		t.Run(format, func(t *testing.T) {
			c, err := NewCompression(format, 6)
			if err != nil {
				t.Fatal(err)
			}

			compressed, err := c.Apply(strings.NewReader(payload))
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			defer compressed.Close()

			if compressed.Len() >= int64(len(payload)) {
				t.Errorf("compressed size %d not smaller than input %d", compressed.Len(), len(payload))
			}

			restored, err := c.Reverse(compressed)
			if err != nil {
				t.Fatalf("Reverse() error = %v", err)
			}
			defer restored.Close()

			got, err := io.ReadAll(restored)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != payload {
				t.Error("round trip did not restore the original payload")
			}
		})
	}
}

func TestCompressionReverseDetectsFormat(t *testing.T) {
	// A gzip artifact restores even when the configuration now says zstd
	payload := strings.Repeat("backup data\n", 100)

	gz, err := NewCompression("gzip", 6)
	if err != nil {
		t.Fatal(err)
	}
	compressed, err := gz.Apply(strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer compressed.Close()

	zst, err := NewCompression("zstd", 3)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := zst.Reverse(compressed)
	if err != nil {
		t.Fatalf("Reverse() error = %v", err)
	}
	defer restored.Close()

	got, err := io.ReadAll(restored)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Error("cross-format reverse did not restore the original payload")
	}
}

func TestCompressionReverseRejectsPlainInput(t *testing.T) {
	c, err := NewCompression("gzip", 6)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Reverse(strings.NewReader("plain text, not compressed"))
	if err == nil {
		t.Fatal("Reverse() accepted uncompressed input")
	}
	if apperrors.GetCode(err) != apperrors.ErrCodeBadStream {
		t.Errorf("Reverse() error code = %v, want %v", apperrors.GetCode(err), apperrors.ErrCodeBadStream)
	}
}

func TestCompressionReverseRejectsEmptyInput(t *testing.T) {
	c, err := NewCompression("gzip", 6)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Reverse(bytes.NewReader(nil)); err == nil {
		t.Fatal("Reverse() accepted an empty stream")
	}
}

func TestDetectAlgorithm(t *testing.T) {
	gzipData := []byte{0x1f, 0x8b, 0x08, 0x00, 0x01}
	zstdData := []byte{0x28, 0xb5, 0x2f, 0xfd, 0x01}
	plain := []byte("hello")

	if algo, _ := detectAlgorithm(bytes.NewReader(gzipData)); algo != AlgorithmGzip {
		t.Errorf("gzip magic detected as %q", algo)
	}
	if algo, _ := detectAlgorithm(bytes.NewReader(zstdData)); algo != AlgorithmZstd {
		t.Errorf("zstd magic detected as %q", algo)
	}
	if algo, _ := detectAlgorithm(bytes.NewReader(plain)); algo != AlgorithmNone {
		t.Errorf("plain text detected as %q", algo)
	}

	// Detection must not consume the stream
	algo, replay := detectAlgorithm(bytes.NewReader(plain))
	if algo != AlgorithmNone {
		t.Fatalf("detected %q", algo)
	}
	got, err := io.ReadAll(replay)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("replay reader returned %q, want %q", got, "hello")
	}
}
