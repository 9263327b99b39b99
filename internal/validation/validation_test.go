package validation

import "testing"

func TestIsValidOrderID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"A1", true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"order_42", true},
		{"", false},
		{"id with spaces", false},
		{"дробь", false},
		{"a/../b", false},
	}

	for _, tt := range tests {
		if got := IsValidOrderID(tt.id); got != tt.want {
			t.Fatalf("IsValidOrderID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsValidAffiliateCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"JOHN-123", true},
		{"ABC", true},
		{"A1-B2-C3", true},
		{"ab", false},
		{"john-123", false},
		{"-JOHN", false},
		{"JOHN-", false},
		{"J@HN", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidAffiliateCode(tt.code); got != tt.want {
			t.Fatalf("IsValidAffiliateCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
