package metrics

var (
	TurnsFailed    = Collector.Counter("petassist_turns_failed_total", "Turns that ended without a reply", "")
	GreetingsSent  = Collector.Counter("petassist_greetings_total", "Welcome greetings sent", "")
	CartUpdates    = Collector.Counter("petassist_cart_updates_total", "Successful cart updates", "")
	LLMErrorsTotal = Collector.Counter("petassist_llm_errors_total", "Failed LLM requests", "")
	RateLimited    = Collector.Counter("petassist_rate_limited_total", "Turns delayed by the per-sender rate limiter", "")
	InFlightTurns  = Collector.Gauge("petassist_turns_in_flight", "Turns currently being processed", "")

	TurnLatency = Collector.Histogram("petassist_turn_latency_seconds", "Turn latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60})
	LLMLatency = Collector.Histogram("petassist_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10, 30, 60})
)

// Turn returns the per-label, per-branch turn counter.
func Turn(label, branch string) *Counter {
	return Collector.Counter("petassist_turns_total", "Completed turns by intent label and branch",
		`label="`+label+`",branch="`+branch+`"`)
}
