// Package resilience decides, per call, whether a request to the LLM endpoint
// executes, waits, or is short-circuited, and retries transient failures.
//
// # Components
//
//   - CircuitBreaker: lock-free health gate shared by every call of a client.
//     Opens after FailureThreshold breaker-worthy failures and admits a single
//     half-open probe once OpenTimeout has elapsed.
//
//   - RateLimiter: token bucket plus a hard per-window ceiling, checked
//     together under one short critical section. Acquire may suspend the
//     caller up to MaxWait.
//
//   - RetryPolicy: classifies errors through the Classified capability and
//     computes exponential backoff with jitter. An explicit retry-after always
//     wins over the computed delay.
//
//   - Bulkhead and Timeout: bound concurrent attempts and single attempt
//     duration.
//
//   - Orchestrator: composes all of the above around an Operation.
//
// # Usage
//
//	o := resilience.NewOrchestrator(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimitConfig{})),
//	    resilience.WithRetryPolicy(resilience.NewRetryPolicy(resilience.DefaultRetryConfig())),
//	    resilience.WithAttemptTimeout(60*time.Second),
//	)
//
//	err := o.Execute(ctx, resilience.OperationFunc(func(ctx context.Context) error {
//	    return send(ctx, req)
//	}), resilience.WithCallTimeout(2*time.Minute))
//
// Callers only see the final outcome: a success, a *CircuitOpenError or
// *RateLimitTimeoutError rejection, a non-retryable error, or a
// *RetryExhaustedError carrying the attempt count, elapsed time and last error.
package resilience
