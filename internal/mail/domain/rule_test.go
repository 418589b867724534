package domain

import (
	"testing"
	"time"
)

func TestRuleMatchesFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	email := &Email{
		Subject:    "Invoice #1042 is overdue",
		Sender:     "Billing Team <billing@acme.example>",
		CleanBody:  "Your invoice is past due. Please arrange payment.",
		Category:   CategoryWork,
		Sentiment:  SentimentNegative,
		Priority:   PriorityHigh,
		ReceivedAt: now.Add(-48 * time.Hour),
	}

	tests := []struct {
		name  string
		field string
		value string
		want  bool
	}{
		{"category match", FieldCategory, "work", true},
		{"category case-insensitive", FieldCategory, "WORK", true},
		{"category mismatch", FieldCategory, "spam", false},
		{"sentiment match", FieldSentiment, "negative", true},
		{"priority match", FieldPriority, "high", true},
		{"sender exact", FieldSender, "Billing Team <billing@acme.example>", true},
		{"sender exact mismatch", FieldSender, "billing@acme.example", false},
		{"sender domain", FieldSenderDomain, "acme.example", true},
		{"sender domain mismatch", FieldSenderDomain, "other.example", false},
		{"sender contains", FieldSenderContains, "billing@", true},
		{"subject contains", FieldSubjectContains, "invoice", true},
		{"subject contains mismatch", FieldSubjectContains, "newsletter", false},
		{"body contains", FieldBodyContains, "past due", true},
		{"unknown field", "headers", "anything", false},
	}
	for _, tt := range tests {
		rule := &Rule{Field: tt.field, Value: tt.value, IsEnabled: true}
		if got := rule.Matches(email, now); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRuleMatchesOlderThanQualifier(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	email := &Email{
		Category:   CategoryNewsletter,
		ReceivedAt: now.Add(-3 * 24 * time.Hour),
	}

	three := 3
	four := 4
	matches := &Rule{Field: FieldCategory, Value: "newsletter", OlderThanDays: &three}
	if !matches.Matches(email, now) {
		t.Error("Expected 3-day-old email to match older_than 3 days")
	}
	tooYoung := &Rule{Field: FieldCategory, Value: "newsletter", OlderThanDays: &four}
	if tooYoung.Matches(email, now) {
		t.Error("Expected 3-day-old email to fail older_than 4 days")
	}
}

func TestRuleActionList(t *testing.T) {
	rule := &Rule{Actions: "archive, read ,,star"}
	got := rule.ActionList()
	want := []string{"archive", "read", "star"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d actions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		sender string
		want   string
	}{
		{"user@example.com", "example.com"},
		{"Name <user@example.com>", "example.com"},
		{"no-at-sign", ""},
		{"", ""},
	}
	for _, tt := range tests {
		e := &Email{Sender: tt.sender}
		if got := e.SenderDomain(); got != tt.want {
			t.Errorf("SenderDomain(%q) = %q, want %q", tt.sender, got, tt.want)
		}
	}
}
