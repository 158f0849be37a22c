package conversation

import "unicode/utf8"

// TokenEstimator approximates token usage when the backend reports none.
type TokenEstimator interface {
	Estimate(request, response string) int
}

// CharEstimator counts one token per CharsPerToken characters of request
// plus response text, rounded up.
type CharEstimator struct {
	CharsPerToken int
}

// DefaultEstimator is the estimator used when none is configured.
var DefaultEstimator TokenEstimator = CharEstimator{CharsPerToken: 4}

func (e CharEstimator) Estimate(request, response string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	n := utf8.RuneCountInString(request) + utf8.RuneCountInString(response)
	return (n + per - 1) / per
}
