package config

// Template is the commented config file written by "phonefleet config init".
const Template = `# phonefleet configuration

# Model endpoint the agents talk to
model:
  base_url: http://localhost:8000/v1
  api_key: EMPTY
  model_name: autoglm-phone-9b
  # Prompt language: cn or en
  lang: cn

# Per-device run bounds
run:
  max_steps: 50
  verbose: true
  # Per-device deadline in seconds (0 disables it)
  timeout_seconds: 0

# Agent implementation
agent:
  # script replays a YAML script; exec starts an external agent process
  kind: script
  script: ""
  # exec agent settings
  command: ""
  args: []
  env: []
  # How long an interrupted agent process may take to exit
  grace_period_ms: 5000

# Worker settings
orchestrator:
  # Per-device event queue capacity
  event_buffer: 256
  # How long a stopped agent may take to return before it is abandoned
  stop_grace_ms: 5000
  # Maximum agents running at once (0 = unlimited)
  max_parallel: 0

# Debug logging
logging:
  enabled: true
  # Empty uses <config dir>/logs
  dir: ""
  # debug, info, warn or error
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false

# Control server ("phonefleet serve") and remote client
server:
  listen: 127.0.0.1:8765
  # Events per device replayed to viewers that connect late
  history_size: 200
  url: http://127.0.0.1:8765
  shutdown_timeout_ms: 10000

# Terminal rendering
console:
  # auto, always or never
  color: auto
  timestamps: false
  width: 0

# Devices used when none are given on the command line (adb serials)
devices: []

# Extra model profiles selectable with --profile
# profiles:
#   my-gateway:
#     base_url: https://gateway.example.com/v1
#     model_name: autoglm-phone-9b
#     api_key: ""
`
