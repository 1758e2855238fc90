package service

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// StatusCoder is implemented by provider errors that carry an HTTP status code
type StatusCoder interface {
	StatusCode() int
}

// QuotaClassifier decides whether a step error means the data provider's quota
// was exhausted. Anything it does not recognise is an ordinary failure.
type QuotaClassifier struct {
	statusCodes []int
	phrases     []string
	patterns    []*regexp.Regexp
}

// NewQuotaClassifier creates a classifier with the provider's known markers
func NewQuotaClassifier() *QuotaClassifier {
	return &QuotaClassifier{
		statusCodes: []int{http.StatusPaymentRequired},
		phrases: []string{
			"402 payment required",
			"status 402",
			// Plain-text quota body decoded as JSON by the API client
			"invalid character 'y' looking for beginning of value",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`exceeded your daily [a-z ]*limit`),
			regexp.MustCompile(`daily api (requests )?limit (reached|exceeded)`),
		},
	}
}

// IsQuotaSignal reports whether err indicates quota exhaustion
func (c *QuotaClassifier) IsQuotaSignal(err error) bool {
	if err == nil {
		return false
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		for _, code := range c.statusCodes {
			if coder.StatusCode() == code {
				return true
			}
		}
	}

	msg := c.normalize(err.Error())
	for _, phrase := range c.phrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	for _, re := range c.patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// normalize case-folds and collapses whitespace. Casers are stateful, so one is built per call.
func (c *QuotaClassifier) normalize(msg string) string {
	return strings.Join(strings.Fields(cases.Fold().String(msg)), " ")
}
