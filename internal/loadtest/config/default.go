package config

// DefaultBaseURL is where the payment API listens by default.
const DefaultBaseURL = "http://localhost:8080"

// Default returns the payment ramp scenario: ramp to 10 VUs over 30s, hold
// for a minute, ramp down over 30s. Each iteration pays once, checks for a
// 200 and sleeps a second.
func Default(baseURL string) *TestConfig {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &TestConfig{
		Name:        "Payment API ramp",
		Description: "Ramp 0 -> 10 -> 0 VUs against the payment endpoint",
		Settings: GlobalSettings{
			BaseURL: baseURL,
		},
		Scenarios: map[string]*ScenarioConfig{
			"pay": {
				Executor: "ramping-vus",
				Stages: []StageConfig{
					{Duration: "30s", Target: 10, Name: "ramp-up"},
					{Duration: "1m", Target: 10, Name: "steady"},
					{Duration: "30s", Target: 0, Name: "ramp-down"},
				},
				Requests: []RequestConfig{
					{
						Name:      "pay",
						Method:    "GET",
						URL:       "{{baseUrl}}/pay",
						ThinkTime: "1s",
						Checks: []CheckConfig{
							{Name: "is status 200", Type: "status", Condition: "eq", Value: "200"},
						},
					},
				},
			},
		},
	}
}
