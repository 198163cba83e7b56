package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestGenerate_CoturnCompatible(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{
		SharedSecret:   "north",
		TTLSeconds:     600,
		UsernamePrefix: "mesh",
		Now:            fixedNow,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	creds, err := g.Generate("client-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	wantExpiry := fixedNow().Unix() + 600
	if creds.ExpiryUnix != wantExpiry {
		t.Fatalf("expiry=%d, want %d", creds.ExpiryUnix, wantExpiry)
	}
	wantUsername := "1714564200:mesh:client-1"
	if creds.Username != wantUsername {
		t.Fatalf("username=%q, want %q", creds.Username, wantUsername)
	}

	mac := hmac.New(sha1.New, []byte("north"))
	mac.Write([]byte(creds.Username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if creds.Credential != want {
		t.Fatalf("credential=%q, want %q", creds.Credential, want)
	}
}

func TestGenerate_RejectsColons(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{
		SharedSecret:   "s",
		TTLSeconds:     60,
		UsernamePrefix: "p",
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, err := g.Generate("a:b"); err == nil {
		t.Fatalf("clientID with colon accepted")
	}
	if _, err := NewGenerator(GeneratorConfig{
		SharedSecret: "s", TTLSeconds: 60, UsernamePrefix: "p:q",
	}); err == nil {
		t.Fatalf("prefix with colon accepted")
	}
}

func TestGeneratorConfigValidation(t *testing.T) {
	cases := []GeneratorConfig{
		{TTLSeconds: 60, UsernamePrefix: "p"},
		{SharedSecret: "s", UsernamePrefix: "p"},
		{SharedSecret: "s", TTLSeconds: 60},
	}
	for i, cfg := range cases {
		if _, err := NewGenerator(cfg); err == nil {
			t.Fatalf("case %d: invalid config accepted", i)
		}
	}
}

func TestGenerateRandom(t *testing.T) {
	g, err := NewGenerator(GeneratorConfig{
		SharedSecret:   "s",
		TTLSeconds:     60,
		UsernamePrefix: "mesh",
		Now:            fixedNow,
		ClientID:       func() (string, error) { return "deadbeef", nil },
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	creds, err := g.GenerateRandom()
	if err != nil {
		t.Fatalf("GenerateRandom: %v", err)
	}
	if !strings.HasSuffix(creds.Username, ":mesh:deadbeef") {
		t.Fatalf("username=%q, want suffix :mesh:deadbeef", creds.Username)
	}
}
