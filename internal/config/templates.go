package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "head":
		return headTemplate, nil
	case "participant":
		return participantTemplate, nil
	case "script":
		return scriptTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const headTemplate = `listen_addr = "127.0.0.1:7400"
size = 3
admin_addr = "127.0.0.1:7480"
cors_origins = ["http://localhost:3000"]
require_class_parity = true
script = "script.toml"
join_token = ""
join_timeout = "30s"
log_limit = 1024

[session]
security_mode = "development"
connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "15s"
ack_timeout = "0s"

[session.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const participantTemplate = `id = "participant-1"
rank = 1
size = 3
head_addr = "127.0.0.1:7400"
join_token = ""
max_connect_attempts = 0
admin_addr = "127.0.0.1:7481"
log_limit = 1024

[session]
security_mode = "development"
connect_timeout = "5s"
handshake_timeout = "5s"

[session.backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true

[session.tls]
enabled = false
server_name = "localhost"
`

const scriptTemplate = `[[step]]
op = "make"
name = "wall"
class = "Wall"
params = { distance = 3.0, normal = [0.0, 0.0, 1.0] }

[[step]]
op = "make"
name = "group"
class = "Group"
params = { members = ["@wall"] }

[[step]]
op = "set"
target = "wall"
param = "distance"
value = 4.5

[[step]]
op = "call"
target = "wall"
method = "shift"
args = { by = 1.5 }

[[step]]
op = "make"
name = "part"
class = "Partition"
params = { total = 10 }

[[step]]
op = "call"
target = "part"
method = "sum"

[[step]]
op = "release"
target = "group"
`
