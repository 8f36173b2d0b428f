package config

import "time"

// Defaults returns a Config populated with every numeric default named in
// the concurrency model: a 5s store deadline, a 10s remediation deadline,
// and the 250ms/1s/5s/30s remediation backoff schedule (the schedule
// itself lives in internal/remediation; only its cooldown window is
// configurable here).
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Backend:  "valkey",
			Deadline: 5 * time.Second,
			Retries:  2,
		},
		Remediation: RemediationConfig{
			Timeout:  10 * time.Second,
			Cooldown: 30 * time.Second,
		},
		Ingress: IngressConfig{
			ListenAddress: ":8090",
		},
		Workers: 8,
	}
}
