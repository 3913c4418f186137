// Package transport sends chat-completion requests over HTTP and turns
// failures into classified errors.
//
// Every error it returns for a failed exchange is one of:
//
//   - *StatusError: the endpoint answered with a non-2xx status. 429, 500,
//     502, 503 and 504 are retryable; 5xx counts toward the circuit breaker.
//     Retry-After (seconds or HTTP-date) and retry-after-ms are honored.
//   - *NetworkError: dial, reset, or read failure. Retryable and breaker-worthy.
//   - the caller's context error, unchanged.
//
// Both error types satisfy resilience.Classified without importing it.
package transport
