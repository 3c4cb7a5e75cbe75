// Package command parses stored payment commands.
//
// Two shapes are understood:
//
//	pay @alice @bob $12.50 for lunch
//	every friday pay @alice 12.50 for lunch
//
// The parser output is versioned. Schedules persist the parsed instruction next
// to the raw text so a later grammar change cannot silently break them.
package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"paybot/internal/calendar"
	"paybot/internal/domain"
)

// Version is bumped whenever Parse changes how a given text is interpreted.
const Version = 1

// Scheduled is a split scheduled command.
type Scheduled struct {
	Verb        domain.RecurrenceVerb
	Token       string
	Instruction domain.PaymentInstruction
	// Body is the instruction text after the recurrence token.
	Body string
}

// Parse parses a bare payment instruction.
func Parse(text string) (domain.PaymentInstruction, error) {
	words := strings.Fields(text)
	if len(words) > 0 && strings.EqualFold(words[0], "venmo") {
		words = words[1:]
	}
	if len(words) == 0 {
		return domain.PaymentInstruction{}, fmt.Errorf("%w: empty command", domain.ErrParse)
	}

	var in domain.PaymentInstruction
	in.Version = Version
	switch strings.ToLower(words[0]) {
	case string(domain.PaymentPay):
		in.Action = domain.PaymentPay
	case string(domain.PaymentCharge):
		in.Action = domain.PaymentCharge
	default:
		return in, fmt.Errorf("%w: expected pay or charge, got %q", domain.ErrParse, words[0])
	}

	i := 1
	for ; i < len(words); i++ {
		if _, ok := parseAmount(words[i]); ok {
			break
		}
		name := strings.TrimPrefix(words[i], "@")
		name = strings.TrimRight(name, ",")
		if name == "" {
			continue
		}
		in.Targets = append(in.Targets, name)
	}
	if len(in.Targets) == 0 {
		return in, fmt.Errorf("%w: no recipients", domain.ErrParse)
	}
	if i >= len(words) {
		return in, fmt.Errorf("%w: missing amount", domain.ErrParse)
	}
	amt, _ := parseAmount(words[i])
	if amt <= 0 {
		return in, fmt.Errorf("%w: amount must be positive", domain.ErrParse)
	}
	in.Amount = amt

	rest := words[i+1:]
	if len(rest) > 0 && strings.EqualFold(rest[0], "for") {
		rest = rest[1:]
	}
	in.Note = strings.Join(rest, " ")
	if in.Note == "" {
		return in, fmt.Errorf("%w: missing note", domain.ErrParse)
	}
	return in, nil
}

// ParseScheduled splits "<verb> <token> <instruction>" and parses the instruction.
// A leading "schedule" word is ignored.
func ParseScheduled(text string) (Scheduled, error) {
	words := strings.Fields(text)
	if len(words) > 0 && strings.EqualFold(words[0], "schedule") {
		words = words[1:]
	}
	if len(words) < 2 {
		return Scheduled{}, fmt.Errorf("%w: expected <every|at|on> <when> <command>", domain.ErrParse)
	}
	verb, ok := domain.ParseVerb(strings.ToLower(words[0]))
	if !ok {
		return Scheduled{}, fmt.Errorf("%w: unknown recurrence verb %q", domain.ErrParse, words[0])
	}
	words = words[1:]

	token, n := splitToken(words)
	body := strings.Join(words[n:], " ")
	in, err := Parse(body)
	if err != nil {
		return Scheduled{}, err
	}
	return Scheduled{Verb: verb, Token: token, Instruction: in, Body: body}, nil
}

// Token extracts only the recurrence token from a stored scheduled command.
func Token(text string) (string, error) {
	words := strings.Fields(text)
	if len(words) > 0 && strings.EqualFold(words[0], "schedule") {
		words = words[1:]
	}
	if len(words) < 2 {
		return "", fmt.Errorf("%w: no recurrence token", domain.ErrParse)
	}
	tok, _ := splitToken(words[1:])
	return tok, nil
}

// splitToken returns the recurrence token at the head of words and how many
// words it consumed.
func splitToken(words []string) (string, int) {
	for _, p := range calendar.Phrases() {
		pw := strings.Fields(p)
		if len(words) < len(pw) {
			continue
		}
		match := true
		for i := range pw {
			if !strings.EqualFold(words[i], pw[i]) {
				match = false
				break
			}
		}
		if match {
			return p, len(pw)
		}
	}
	// "the 15th"
	if len(words) >= 2 && strings.EqualFold(words[0], "the") {
		return strings.ToLower(words[0] + " " + words[1]), 2
	}
	if len(words) == 0 {
		return "", 0
	}
	// "2024-06-01 10:00"
	if len(words) >= 2 && isDate(words[0]) && isClock(words[1]) {
		return words[0] + " " + words[1], 2
	}
	return strings.ToLower(words[0]), 1
}

func isDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func isClock(s string) bool {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimPrefix(s, "$")
	if s == "" || (s[0] < '0' || s[0] > '9') && s[0] != '.' {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Render formats an instruction back into command text.
func Render(in domain.PaymentInstruction) string {
	var b strings.Builder
	b.WriteString(string(in.Action))
	for _, t := range in.Targets {
		b.WriteString(" @")
		b.WriteString(t)
	}
	b.WriteString(" ")
	b.WriteString(strconv.FormatFloat(in.Amount, 'f', 2, 64))
	b.WriteString(" for ")
	b.WriteString(in.Note)
	return b.String()
}
