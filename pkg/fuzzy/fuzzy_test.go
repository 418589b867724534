package fuzzy

import "testing"

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "", 0},
		{"invoice", "", 7},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"invoice", "invoice", 0},
		{"invoice", "invocie", 2},
		{"Meeting", "meeting", 0},
	}
	for _, tt := range tests {
		if got := LevenshteinDistance(tt.s1, tt.s2); got != tt.want {
			t.Errorf("LevenshteinDistance(%q, %q) = %d, want %d", tt.s1, tt.s2, got, tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		text      string
		threshold int
		want      bool
	}{
		{"exact substring", "invoice", "Your invoice is attached", 1, true},
		{"case insensitive", "INVOICE", "your invoice #42", 1, true},
		{"word prefix", "inv", "Invoice overdue", 0, true},
		{"one typo", "invocie", "invoice attached", 2, true},
		{"too many typos", "xnvxcxe", "invoice attached", 1, false},
		{"no match", "payroll", "weekly newsletter", 1, false},
	}
	for _, tt := range tests {
		if got := Match(tt.query, tt.text, tt.threshold); got != tt.want {
			t.Errorf("%s: Match(%q, %q, %d) = %v, want %v", tt.name, tt.query, tt.text, tt.threshold, got, tt.want)
		}
	}
}

func TestMatchEmail(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		subject string
		sender  string
		body    string
		want    bool
	}{
		{"subject hit", "invoice", "Invoice #42 due", "billing@acme.com", "", true},
		{"sender hit", "acme", "Hello", "billing@acme.com", "", true},
		{"body hit", "refund", "Hello", "shop@example.com", "Your refund was processed.", true},
		{"typo in long query tolerated", "newsleter", "Weekly Newsletter", "news@example.com", "", true},
		{"short query one typo", "xed", "Red alert", "ops@example.com", "", true},
		{"miss everywhere", "invoice", "Team standup", "cal@example.com", "See you at ten.", false},
	}
	for _, tt := range tests {
		if got := MatchEmail(tt.query, tt.subject, tt.sender, tt.body); got != tt.want {
			t.Errorf("%s: MatchEmail = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMatchEmailIgnoresBodyPastCap(t *testing.T) {
	padding := make([]byte, 600)
	for i := range padding {
		padding[i] = 'x'
	}
	body := string(padding) + " refund"
	if MatchEmail("refund", "Hello", "shop@example.com", body) {
		t.Error("Expected match beyond the body cap to be ignored")
	}
}

func TestScoreOrdering(t *testing.T) {
	subjectHit := Score("invoice", "Invoice #42", "billing@acme.com")
	senderHit := Score("acme", "Monthly summary", "billing@acme.com")
	miss := Score("payroll", "Monthly summary", "billing@acme.com")

	if subjectHit <= senderHit {
		t.Errorf("Expected subject hit (%v) to outrank sender hit (%v)", subjectHit, senderHit)
	}
	if senderHit <= miss {
		t.Errorf("Expected sender hit (%v) to outrank miss (%v)", senderHit, miss)
	}
	if miss != 0 {
		t.Errorf("Expected zero score for miss, got %v", miss)
	}
}

func TestScoreWordBonus(t *testing.T) {
	whole := Score("invoice", "invoice overdue", "a@b.com")
	partial := Score("invoice", "invoices overdue", "a@b.com")
	if whole <= partial {
		t.Errorf("Expected whole-word subject match (%v) to outrank partial (%v)", whole, partial)
	}
}
