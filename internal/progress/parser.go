package progress

import (
	"strings"
	"time"

	"checkpilot/internal/checkin"
)

// Event is the outcome of a line that matched a rule.
type Event struct {
	Rule   string
	Status checkin.Status
	Patch  checkin.Patch
}

// Parser evaluates rules against the output of one worker. It remembers which
// rules fired so After-gated rules only apply later in the same stream, and
// it is not safe for concurrent use.
type Parser struct {
	rules []Rule
	fired map[string]bool
	now   func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock overrides the time source stamped into extracted fields.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRules replaces the default rule set.
func WithRules(rules []Rule) Option {
	return func(p *Parser) {
		if len(rules) > 0 {
			p.rules = append([]Rule(nil), rules...)
		}
	}
}

// NewParser returns a parser seeded with DefaultRules.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		rules: DefaultRules(),
		fired: make(map[string]bool),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse applies the first matching rule to line.
func (p *Parser) Parse(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}
	for _, rule := range p.rules {
		if rule.Match == nil {
			continue
		}
		if rule.After != "" && !p.fired[rule.After] {
			continue
		}
		if rule.Once && p.fired[rule.Name] {
			continue
		}
		if p.retired(rule) {
			continue
		}
		match := rule.Match.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		var patch checkin.Patch
		if rule.Extract != nil {
			patch = rule.Extract(match, line, p.now())
		}
		if rule.Transition != "" {
			patch.Status = checkin.Ptr(rule.Transition)
		}
		p.fired[rule.Name] = true
		if patch.IsZero() {
			return Event{}, false
		}
		return Event{Rule: rule.Name, Status: rule.Transition, Patch: patch}, true
	}
	return Event{}, false
}

func (p *Parser) retired(rule Rule) bool {
	for _, name := range rule.Until {
		if p.fired[name] {
			return true
		}
	}
	return false
}
