package usecase

import (
	"time"

	"mailpilot-backend/internal/mail/domain"
)

// RuleAction is one action selected by rule evaluation, carrying the
// originating rule's draft context when the action is a draft.
type RuleAction struct {
	Action       string
	RuleID       string
	RuleName     string
	Instructions string
	Attachments  string
}

// EvaluateRules runs every enabled rule against the email and returns the
// ordered, deduplicated action list. Rules are evaluated in the order
// given; within a rule, actions keep their stored order. A later rule
// requesting an action already selected does not add a duplicate.
//
// Delete dominates: when present, all other mutations are pointless, so
// the returned slice is reduced to the delete action alone (drafts are
// still kept, since a reply draft survives the original's deletion).
func EvaluateRules(rules []*domain.Rule, email *domain.Email, now time.Time) []RuleAction {
	var out []RuleAction
	seen := make(map[string]bool)

	for _, rule := range rules {
		if !rule.IsEnabled || !rule.Matches(email, now) {
			continue
		}
		for _, action := range rule.ActionList() {
			if seen[action] {
				continue
			}
			seen[action] = true
			out = append(out, RuleAction{
				Action:       action,
				RuleID:       rule.ID,
				RuleName:     rule.Name,
				Instructions: rule.Instructions,
				Attachments:  rule.Attachments,
			})
		}
	}

	if seen[domain.ActionDelete] {
		reduced := out[:0]
		for _, a := range out {
			if a.Action == domain.ActionDelete || a.Action == domain.ActionDraft {
				reduced = append(reduced, a)
			}
		}
		out = reduced
	}
	return out
}
