package r2s3

import (
	"io"
	"log"
	"strings"
	"testing"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Disabled(t *testing.T) {
	_, ok, err := FromEnv(lookup(map[string]string{"BS_R2_ENDPOINT": "x"}))
	if err != nil || ok {
		t.Fatalf("disabled: got ok=%v err=%v want ok=false err=nil", ok, err)
	}
}

func TestFromEnv_MissingCredentials(t *testing.T) {
	_, ok, err := FromEnv(lookup(map[string]string{
		"BS_R2_MIRROR":   "true",
		"BS_R2_ENDPOINT": "r2.example.com",
	}))
	if err == nil || ok {
		t.Fatalf("missing creds: got ok=%v err=%v", ok, err)
	}
	for _, k := range []string{"BS_R2_BUCKET", "BS_R2_ACCESS_KEY_ID", "BS_R2_SECRET_ACCESS_KEY"} {
		if !strings.Contains(err.Error(), k) {
			t.Fatalf("error %q does not name %s", err, k)
		}
	}
}

func TestFromEnv_DefaultsAndOpen(t *testing.T) {
	env, ok, err := FromEnv(lookup(map[string]string{
		"BS_R2_MIRROR":            "1",
		"BS_R2_ENDPOINT":          " r2.example.com ",
		"BS_R2_BUCKET":            "stages",
		"BS_R2_ACCESS_KEY_ID":     "ak",
		"BS_R2_SECRET_ACCESS_KEY": "sk",
		"BS_R2_UPLOAD_WORKERS":    "-3",
		"BS_R2_QUEUE_CAPACITY":    "16",
		"BS_R2_SKIP_EXISTING":     "true",
	}))
	if err != nil || !ok {
		t.Fatalf("from env: ok=%v err=%v", ok, err)
	}
	if env.Endpoint != "r2.example.com" || env.Bucket != "stages" {
		t.Fatalf("endpoint/bucket: got %q/%q", env.Endpoint, env.Bucket)
	}
	if env.Workers != 2 || env.QueueCapacity != 16 || !env.SkipExisting {
		t.Fatalf("workers=%d capacity=%d skip=%v", env.Workers, env.QueueCapacity, env.SkipExisting)
	}

	m, err := env.Open(t.TempDir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()
	if got := m.Stats().QueueCapacity; got != 16 {
		t.Fatalf("queue capacity: got %d want 16", got)
	}
}
