package middleware

import (
	"net/http"

	"github.com/always-cache/dejavu"
	"github.com/always-cache/dejavu/operation"
	"github.com/rs/zerolog"
)

type Rules []Rule

// Rule is a URL rule that also matches on method and request headers.
type Rule struct {
	dejavu.Rule `yaml:",inline"`
	// Method defaults to GET.
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

// Validate parses the operation of every rule.
func (r Rules) Validate() error {
	for _, rule := range r {
		if _, err := operation.Parse(rule.Operation); err != nil {
			return err
		}
	}
	return nil
}

func (r Rules) find(req *http.Request, log zerolog.Logger) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for i := range r {
		rule := &r[i]
		if rule.Method == "" && req.Method != http.MethodGet {
			continue
		}
		if rule.Method != "" && rule.Method != req.Method {
			continue
		}
		if !rule.Matches(req.URL) {
			continue
		}
		for name, value := range rule.Headers {
			if req.Header.Get(name) != value {
				continue rulesLoop
			}
		}
		return rule
	}
	return nil
}

// operation returns the operation of the first matching rule, or nil.
func (r Rules) operation(req *http.Request, log zerolog.Logger) operation.Operation {
	rule := r.find(req, log)
	if rule == nil {
		return nil
	}
	op, err := operation.Parse(rule.Operation)
	if err != nil {
		log.Warn().Err(err).Str("operation", rule.Operation).Msg("Ignoring invalid rule")
		return nil
	}
	return op
}
