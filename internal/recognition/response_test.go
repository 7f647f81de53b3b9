package recognition

import "testing"

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "# Heading\n\nBody", "# Heading\n\nBody"},
		{"wrapper", `<div style="text-align: center;"><img src="imgs/x.jpg" /></div>`, `<img src="imgs/x.jpg" />`},
		{"wrapper any case", `<DIV STYLE="TEXT-ALIGN: CENTER;">fig</DIV>`, "fig"},
		{"blank runs", "a\n\n\nb\n\n\n\n\nc", "a\n\nb\n\nc"},
		{"single blank kept", "a\n\nb", "a\n\nb"},
		{"wrapper leaves blank run", "a\n\n<div style=\"text-align: center;\"></div>\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePage(tt.in); got != tt.want {
				t.Errorf("NormalizePage(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}
