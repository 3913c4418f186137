// Package config loads client configuration from YAML.
//
// A file only needs the values that differ from Default:
//
//	transport:
//	  base_url: https://api.openai.com/v1
//	  headers:
//	    Authorization: Bearer ${OPENAI_API_KEY}
//	  attempt_timeout: 45s
//	retry:
//	  max_attempts: 5
//	observe:
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: http://otel-collector:4317
//	  logging:
//	    enabled: true
//	    level: debug
//
// Durations are Go duration strings. LLMCORE_BASE_URL and LLMCORE_LOG_LEVEL
// override the file when set. Header values are expanded by ResolveHeaders,
// which the client runs when it is built from a Config.
package config
