package content

import (
	"strings"
	"testing"
)

func TestRender_Unsafe(t *testing.T) {
	for _, input := range []string{
		"<script>alert('xss')</script>Hello",
		"<a href='javascript:alert(1)'>Click me</a>",
		"[Click me](javascript:alert(1))",
	} {
		got, err := Render(input)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(got, "<script") || strings.Contains(got, "javascript:") {
			t.Errorf("Render(%q) = %q", input, got)
		}
	}
}

func TestStripTags(t *testing.T) {
	if got := StripTags("  <b>Ayşe</b> "); got != "Ayşe" {
		t.Errorf("StripTags() = %q", got)
	}
}

func TestRender(t *testing.T) {
	got, err := Render("**gg** wp")
	if err != nil {
		t.Fatal(err)
	}
	if got != "<p><strong>gg</strong> wp</p>" {
		t.Errorf("Render() = %q", got)
	}

	got, err = Render("<script>alert(1)</script>")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "<script") {
		t.Errorf("Render() leaked script: %q", got)
	}
}

func TestEscape(t *testing.T) {
	if got := Escape("<div>"); got != "&lt;div&gt;" {
		t.Errorf("Escape() = %q", got)
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"Valid", "gamer_42", false},
		{"Too short", "ab", true},
		{"Too long", "abcdefghijklmnopqrstu", true},
		{"Dot", "john.doe", true},
		{"Space", "john doe", true},
		{"Turkish letter", "ayşe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateUsername(tt.username); (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
		})
	}
}

func TestValidateOthers(t *testing.T) {
	if ValidateDisplayName("Ç") == nil {
		t.Error("one character display name should fail")
	}
	if ValidateDisplayName("Çağ") != nil {
		t.Error("three character display name should pass")
	}
	if ValidateEmail("a@b.co") != nil {
		t.Error("valid email rejected")
	}
	if ValidateEmail("not-an-email") == nil {
		t.Error("invalid email accepted")
	}
	if ValidatePassword("12345") == nil {
		t.Error("short password accepted")
	}
}
