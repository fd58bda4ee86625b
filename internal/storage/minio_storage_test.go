package storage

import (
	"context"
	"testing"

	"github.com/spec-kit/support-desk/internal/config"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

func TestPublicBaseURL(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StorageConfig
		want string
	}{
		{"ssl", config.StorageConfig{Endpoint: "s3.local:9000", Bucket: "att", UseSSL: true}, "https://s3.local:9000/att"},
		{"plain", config.StorageConfig{Endpoint: "minio:9000", Bucket: "att"}, "http://minio:9000/att"},
		{"override", config.StorageConfig{Endpoint: "minio:9000", Bucket: "att", PublicBaseURL: "https://cdn.example/att/"}, "https://cdn.example/att"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := publicBaseURL(tc.cfg); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestObjectURLEscapesSegments(t *testing.T) {
	got := objectURL("https://cdn.example/att", "tickets/t1/m1/crash report.png")
	want := "https://cdn.example/att/tickets/t1/m1/crash%20report.png"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUploadRejectsOversizedObjects(t *testing.T) {
	s := &MinioStorage{maxUploadSize: 4}
	_, err := s.Upload(context.Background(), "tickets/t1/m1/big.bin", []byte("12345"), "application/octet-stream")
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
