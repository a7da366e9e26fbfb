package linking

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		countryCode string
		want        string
		wantErr     bool
	}{
		{"already canonical", "+639171234567", "63", "+639171234567", false},
		{"international 00 prefix", "00639171234567", "63", "+639171234567", false},
		{"national format", "09171234567", "63", "+639171234567", false},
		{"separators stripped", "0917-123 4567", "63", "+639171234567", false},
		{"parentheses and dots", "(0917) 123.4567", "63", "+639171234567", false},
		{"country code without plus", "639171234567", "63", "+639171234567", false},
		{"foreign number kept as is", "14155550100", "63", "+14155550100", false},
		{"leading and trailing space", "  +639171234567  ", "63", "+639171234567", false},
		{"empty", "", "63", "", true},
		{"only spaces", "   ", "63", "", true},
		{"letters", "0917CALLME", "63", "", true},
		{"plus inside", "0917+1234567", "63", "", true},
		{"too short", "12345", "63", "", true},
		{"national without country code", "09171234567", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, tt.countryCode)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePhone failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
