package execution

import (
	"context"
	"strings"
)

// TestCase is one stdin/expected-output pair.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	Hidden         bool   `json:"hidden"`
}

// CaseResult is the outcome of a single test case.
type CaseResult struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	ActualOutput   string `json:"actualOutput"`
	Stderr         string `json:"stderr,omitempty"`
	Passed         bool   `json:"passed"`
	Errored        bool   `json:"errored"`
	Hidden         bool   `json:"hidden"`
}

// RunTestCases runs code once per case. A case passes when the trimmed output equals the
// trimmed expectation. An upstream failure aborts the run.
func RunTestCases(ctx context.Context, runner Runner, language, code string, cases []TestCase) ([]CaseResult, error) {
	results := make([]CaseResult, 0, len(cases))
	for _, testCase := range cases {
		result, err := runner.Execute(ctx, Request{Language: language, Code: code, Stdin: testCase.Input})
		if err != nil {
			return nil, err
		}
		actual := strings.TrimSpace(result.Output)
		results = append(results, CaseResult{
			Input:          testCase.Input,
			ExpectedOutput: testCase.ExpectedOutput,
			ActualOutput:   actual,
			Stderr:         result.Stderr,
			Passed:         actual == strings.TrimSpace(testCase.ExpectedOutput),
			Errored:        result.Failed(),
			Hidden:         testCase.Hidden,
		})
	}
	return results, nil
}

// CountPassed returns the number of passing results.
func CountPassed(results []CaseResult) int {
	passed := 0
	for _, result := range results {
		if result.Passed {
			passed++
		}
	}
	return passed
}
