package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/danmuck/spectre/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadHeadConfigAppliesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "head.toml", `
listen_addr = "0.0.0.0:9000"
size = 4
require_class_parity = false

[session]
ack_timeout = "2s"
`)
	cfg, err := LoadHeadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultHeadConfig()
	if cfg.ListenAddr != "0.0.0.0:9000" || cfg.Size != 4 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.RequireClassParity {
		t.Fatalf("expected class parity disabled")
	}
	if cfg.Session.AckTimeout != 2*time.Second {
		t.Fatalf("expected ack timeout 2s, got %v", cfg.Session.AckTimeout)
	}
	if cfg.Session.ConnectTimeout != def.Session.ConnectTimeout {
		t.Fatalf("connect timeout should keep default, got %v", cfg.Session.ConnectTimeout)
	}
	if cfg.JoinTimeout != def.JoinTimeout || cfg.LogLimit != def.LogLimit {
		t.Fatalf("unset keys should keep defaults: %+v", cfg)
	}
}

func TestLoadHeadConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"size":     "size = 0\n",
		"duration": "join_timeout = \"soon\"\n",
		"tls":      "[session]\nsecurity_mode = \"production\"\n",
		"syntax":   "size = \n",
	}
	for name, body := range cases {
		path := writeFile(t, name+".toml", body)
		if _, err := LoadHeadConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadParticipantConfigSessionTables(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "participant.toml", `
id = "p2"
rank = 2
size = 3
head_addr = "head:7400"
max_connect_attempts = 5

[session.backoff]
initial_delay = "10ms"
max_delay = "40ms"
jitter = false

[session.tls]
enabled = true
ca_file = "/etc/spectre/ca.pem"
server_name = "head"
`)
	cfg, err := LoadParticipantConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ID != "p2" || cfg.Rank != 2 || cfg.HeadAddr != "head:7400" || cfg.MaxConnectAttempts != 5 {
		t.Fatalf("unexpected participant config: %+v", cfg)
	}
	if cfg.Session.Backoff.InitialDelay != 10*time.Millisecond || cfg.Session.Backoff.MaxDelay != 40*time.Millisecond {
		t.Fatalf("unexpected backoff: %+v", cfg.Session.Backoff)
	}
	if cfg.Session.Backoff.Jitter {
		t.Fatalf("expected jitter disabled")
	}
	if cfg.Session.Backoff.Multiplier != session.DefaultConfig().Backoff.Multiplier {
		t.Fatalf("multiplier should keep default")
	}
	if !cfg.Session.TLS.Enabled || cfg.Session.TLS.CAFile != "/etc/spectre/ca.pem" || cfg.Session.TLS.ServerName != "head" {
		t.Fatalf("unexpected tls: %+v", cfg.Session.TLS)
	}
}

func TestLoadParticipantConfigRankOutsideGroup(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "participant.toml", "rank = 3\nsize = 3\n")
	if _, err := LoadParticipantConfig(path); err == nil {
		t.Fatalf("expected rank outside group error")
	}
	path = writeFile(t, "head-rank.toml", "rank = 0\n")
	if _, err := LoadParticipantConfig(path); err == nil {
		t.Fatalf("expected rank 0 to be rejected")
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	head := filepath.Join(dir, "head.toml")
	if err := WriteTemplate(head, "head", false); err != nil {
		t.Fatalf("write head template: %v", err)
	}
	if _, err := LoadHeadConfig(head); err != nil {
		t.Fatalf("head template does not load: %v", err)
	}
	if err := WriteTemplate(head, "head", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(head, "head", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	participant := filepath.Join(dir, "participant.toml")
	if err := WriteTemplate(participant, "participant", false); err != nil {
		t.Fatalf("write participant template: %v", err)
	}
	if _, err := LoadParticipantConfig(participant); err != nil {
		t.Fatalf("participant template does not load: %v", err)
	}

	script := filepath.Join(dir, "script.toml")
	if err := WriteTemplate(script, "script", false); err != nil {
		t.Fatalf("write script template: %v", err)
	}
	s, err := LoadScript(script)
	if err != nil {
		t.Fatalf("script template does not load: %v", err)
	}
	if len(s.Steps) == 0 || s.Steps[0].Op != OpMake {
		t.Fatalf("unexpected script steps: %+v", s.Steps)
	}

	if _, err := Template("scheduler"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestParseScriptValues(t *testing.T) {
	testlog.Start(t)
	s, err := ParseScript([]byte(`
[[step]]
op = "MAKE"
name = "w"
class = "Wall"
params = { distance = 2.5, normal = [0.0, 1.0, 0.0] }

[[step]]
op = "make"
name = "g"
class = "Group"
params = { members = ["@w"] }
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Steps[0].Op != OpMake {
		t.Fatalf("op should be normalized, got %q", s.Steps[0].Op)
	}
	if d, ok := s.Steps[0].Params["distance"].(float64); !ok || d != 2.5 {
		t.Fatalf("unexpected distance: %#v", s.Steps[0].Params["distance"])
	}
	members, ok := s.Steps[1].Params["members"].([]any)
	if !ok || len(members) != 1 {
		t.Fatalf("unexpected members: %#v", s.Steps[1].Params["members"])
	}
	if name, ok := Reference(members[0]); !ok || name != "w" {
		t.Fatalf("expected reference to w, got %#v", members[0])
	}
}

func TestScriptValidate(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown op":     "[[step]]\nop = \"explode\"\n",
		"missing class":  "[[step]]\nop = \"make\"\n",
		"unbound target": "[[step]]\nop = \"call\"\ntarget = \"x\"\nmethod = \"m\"\n",
		"dangling ref":   "[[step]]\nop = \"make\"\nclass = \"Group\"\nparams = { members = [\"@missing\"] }\n",
		"rebind":         "[[step]]\nop = \"make\"\nname = \"a\"\nclass = \"Wall\"\n[[step]]\nop = \"make\"\nname = \"a\"\nclass = \"Wall\"\n",
		"after release":  "[[step]]\nop = \"make\"\nname = \"a\"\nclass = \"Wall\"\n[[step]]\nop = \"release\"\ntarget = \"a\"\n[[step]]\nop = \"call\"\ntarget = \"a\"\nmethod = \"get_distance\"\n",
		"set no value":   "[[step]]\nop = \"make\"\nname = \"a\"\nclass = \"Wall\"\n[[step]]\nop = \"set\"\ntarget = \"a\"\nparam = \"distance\"\n",
	}
	for name, body := range cases {
		_, err := ParseScript([]byte(body))
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if !strings.Contains(err.Error(), "step") {
			t.Fatalf("%s: error should name the step: %v", name, err)
		}
	}
}
