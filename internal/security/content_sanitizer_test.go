package security

import (
	"strings"
	"testing"
)

func TestPlainText_StripsTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "hello gophers", want: "hello gophers"},
		{name: "太字タグを除去", input: "<b>bold</b> move", want: "bold move"},
		{name: "scriptは中身ごと除去", input: `hi<script>alert("x")</script>`, want: "hi"},
		{name: "エンティティを戻す", input: "fish &amp; chips", want: "fish & chips"},
		{name: "比較記号を保持", input: "1 < 2", want: "1 < 2"},
		{name: "前後の空白を除去", input: "  <p>padded</p>  ", want: "padded"},
		{name: "空文字列", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBio_AllowedFormatting(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Bio("<strong>Gopher</strong><br><em>since 2012</em>")
	for _, want := range []string{"<strong>Gopher</strong>", "<br", "<em>since 2012</em>"} {
		if !strings.Contains(got, want) {
			t.Errorf("Bio() = %q, want to contain %q", got, want)
		}
	}
}

func TestBio_ForbiddenContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		notContain []string
	}{
		{"scriptタグ", `<script>alert(1)</script>about me`, []string{"<script", "alert"}},
		{"on*属性", `<strong onclick="steal()">x</strong>`, []string{"onclick", "steal"}},
		{"imgタグ", `<img src="https://example.com/a.png">`, []string{"<img"}},
		{"iframe", `<iframe src="https://evil.example"></iframe>`, []string{"<iframe"}},
		{"javascriptリンク", `<a href="javascript:alert(1)">x</a>`, []string{"javascript:"}},
		{"httpリンク", `<a href="http://example.com">x</a>`, []string{"http://example.com"}},
		{"相対リンク", `<a href="/local">x</a>`, []string{"/local"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Bio(tt.input)
			for _, bad := range tt.notContain {
				if strings.Contains(got, bad) {
					t.Errorf("Bio(%q) = %q, must not contain %q", tt.input, got, bad)
				}
			}
		})
	}
}

func TestBio_HTTPSLinkAttributes(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Bio(`<a href="https://go.dev">site</a>`)
	for _, want := range []string{`href="https://go.dev"`, `target="_blank"`, "noreferrer", "noopener"} {
		if !strings.Contains(got, want) {
			t.Errorf("Bio() = %q, want to contain %q", got, want)
		}
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<strong>a</strong> <a href="https://go.dev">b</a><script>c</script>`
	once := sanitizer.Bio(input)
	if twice := sanitizer.Bio(once); once != twice {
		t.Errorf("Bio is not idempotent: %q -> %q", once, twice)
	}

	plain := sanitizer.PlainText("<p>x &amp; y</p>")
	if again := sanitizer.PlainText(plain); again != plain {
		t.Errorf("PlainText is not idempotent: %q -> %q", plain, again)
	}
}

func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
