package config

// Embedded board descriptions, keyed by board name.

const cfgPicoSim = `{
  "name": "pico-sim",
  "loop_depth": 64,
  "ticks_per_ms": 32,
  "rng_seed": 1,
  "processes": {"max": 4, "upcall_queue": 10},
  "pwm": {"pins": [2, 3, 4], "max_freq_hz": 1000000, "max_duty": 65535},
  "adc": {"channels": 4, "bits": 12, "reference_mv": 3300, "kernel_channels": [3]},
  "nvstorage": {
    "size": "8KiB",
    "user_start": "0",
    "user_len": "4KiB",
    "kernel_start": "4KiB",
    "kernel_len": "4KiB",
    "buffer": "512B"
  },
  "aht20": {"enabled": true, "poll_ms": 15, "timeout_ms": 250, "trigger_ms": 80},
  "telemetry": {"queue": 32}
}`

const cfgPicoScope = `{
  "name": "pico-scope",
  "ticks_per_ms": 32,
  "processes": {"max": 2},
  "pwm": {"pins": [15], "max_freq_hz": 125000000},
  "adc": {"channels": 3, "bits": 12, "dedicated": true},
  "nvstorage": {
    "size": "2KiB",
    "user_start": "1KiB",
    "user_len": "1KiB",
    "kernel_start": "0",
    "kernel_len": "1KiB"
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico-sim":   []byte(cfgPicoSim),
	"pico-scope": []byte(cfgPicoScope),
}
