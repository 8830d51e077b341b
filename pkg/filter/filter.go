package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wasilibs/go-re2"
	"golang.org/x/text/unicode/norm"
	"mastogone/pkg/config"
	"mastogone/pkg/models"
)

// Criteria is the resolved set of filters for one run. Zero times mean
// the bound is not set.
type Criteria struct {
	// Cutoff keeps posts created at or before this instant (the day cutoff)
	Cutoff time.Time
	// After and Before are inclusive range bounds
	After  time.Time
	Before time.Time

	// Patterns are OR'ed; Regex switches all of them to regular expressions
	Patterns []string
	Regex    bool

	IncludeReplies bool
	IncludeReblogs bool
}

// Reason explains a verdict
type Reason string

const (
	ReasonMatched     Reason = "matched"
	ReasonTooRecent   Reason = "too_recent"
	ReasonBeforeRange Reason = "before_range"
	ReasonAfterRange  Reason = "after_range"
	ReasonNoPattern   Reason = "no_pattern"
	ReasonReply       Reason = "reply"
	ReasonReblog      Reason = "reblog"
)

// Matcher evaluates Criteria against posts. It holds no mutable state.
type Matcher struct {
	criteria Criteria
	literals []string
	regexps  []*re2.Regexp
}

// ErrInvalidRange is returned when After is later than Before
var ErrInvalidRange = errors.New("after date is later than before date")

// New compiles the criteria. Regex patterns that fail to compile are
// reported together.
func New(c Criteria) (*Matcher, error) {
	if !c.After.IsZero() && !c.Before.IsZero() && c.After.After(c.Before) {
		return nil, ErrInvalidRange
	}

	m := &Matcher{criteria: c}

	var errs []error
	for _, p := range c.Patterns {
		if p == "" {
			continue
		}
		if c.Regex {
			re, err := re2.Compile(p)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid pattern %q: %w", p, err))
				continue
			}
			m.regexps = append(m.regexps, re)
		} else {
			m.literals = append(m.literals, norm.NFC.String(p))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return m, nil
}

// FromConfig builds a Matcher from configuration, resolving the day cutoff
// against now. A date-only before bound covers that whole day.
func FromConfig(cfg *config.FilterConfig, now time.Time) (*Matcher, error) {
	c := Criteria{
		Patterns:       cfg.Match,
		Regex:          cfg.Regex,
		IncludeReplies: cfg.IncludeReplies,
		IncludeReblogs: cfg.IncludeReblogs,
	}

	if cfg.Days > 0 {
		c.Cutoff = now.UTC().AddDate(0, 0, -cfg.Days)
	}

	var err error
	if c.After, err = config.ParseDate(cfg.After); err != nil {
		return nil, fmt.Errorf("invalid after date: %w", err)
	}
	if c.Before, err = config.ParseBefore(cfg.Before); err != nil {
		return nil, fmt.Errorf("invalid before date: %w", err)
	}

	return New(c)
}

// Criteria returns the criteria the matcher was built from
func (m *Matcher) Criteria() Criteria {
	return m.criteria
}

// Matches reports whether the post passes every enabled filter
func (m *Matcher) Matches(p *models.Post) bool {
	return m.Evaluate(p) == ReasonMatched
}

// Evaluate returns ReasonMatched or the first filter that rejected the post
func (m *Matcher) Evaluate(p *models.Post) Reason {
	c := &m.criteria
	created := p.CreatedAt.UTC()

	if !c.Cutoff.IsZero() && created.After(c.Cutoff) {
		return ReasonTooRecent
	}
	if !c.After.IsZero() && created.Before(c.After) {
		return ReasonBeforeRange
	}
	if !c.Before.IsZero() && created.After(c.Before) {
		return ReasonAfterRange
	}
	if p.IsReply && !c.IncludeReplies {
		return ReasonReply
	}
	if p.IsReblog && !c.IncludeReblogs {
		return ReasonReblog
	}
	if !m.matchesPattern(p.Content) {
		return ReasonNoPattern
	}
	return ReasonMatched
}

func (m *Matcher) matchesPattern(text string) bool {
	if len(m.literals) == 0 && len(m.regexps) == 0 {
		return true
	}

	if len(m.literals) > 0 {
		normalized := norm.NFC.String(text)
		for _, lit := range m.literals {
			if strings.Contains(normalized, lit) {
				return true
			}
		}
	}
	for _, re := range m.regexps {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Describe renders the criteria for the run banner
func (m *Matcher) Describe() map[string]interface{} {
	c := m.criteria
	out := map[string]interface{}{
		"include_replies": c.IncludeReplies,
		"include_reblogs": c.IncludeReblogs,
	}
	if !c.Cutoff.IsZero() {
		out["cutoff"] = c.Cutoff.Format(time.RFC3339)
	}
	if !c.After.IsZero() {
		out["after"] = c.After.Format(time.RFC3339)
	}
	if !c.Before.IsZero() {
		out["before"] = c.Before.Format(time.RFC3339)
	}
	if len(c.Patterns) > 0 {
		out["patterns"] = c.Patterns
		out["regex"] = c.Regex
	}
	return out
}
