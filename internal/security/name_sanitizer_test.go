package security

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func TestSanitizeName(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "平文はそのまま", input: "Alice Smith", want: "Alice Smith"},
		{name: "日本語名はそのまま", input: "山田 太郎", want: "山田 太郎"},
		{name: "タグを除去する", input: "<b>Bob</b>", want: "Bob"},
		{name: "scriptは中身ごと除去する", input: "Eve<script>alert(1)</script>", want: "Eve"},
		{name: "属性付きタグを除去する", input: `<a href="https://example.com" onclick="x()">Mallory</a>`, want: "Mallory"},
		{name: "前後の空白を除去する", input: "  Carol \t", want: "Carol"},
		{name: "連続する空白をまとめる", input: "Dave \n  Jones", want: "Dave Jones"},
		{name: "アンパサンドを保持する", input: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "空文字は空文字", input: "", want: ""},
		{name: "タグだけなら空文字", input: "<br/><img src=x>", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.SanitizeName(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeName_TruncatesLongNames(t *testing.T) {
	sanitizer := NewNameSanitizer()

	got := sanitizer.SanitizeName(strings.Repeat("名", MaxNameLength+10))

	if n := utf8.RuneCountInString(got); n != MaxNameLength {
		t.Errorf("rune count = %d, want %d", n, MaxNameLength)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated name should be valid UTF-8")
	}
}

// 同一入力に対して常に同一出力を返す
func TestSanitizeName_Idempotent(t *testing.T) {
	sanitizer := NewNameSanitizer()
	input := "  <i>Frank</i>   O'Neil & co "

	first := sanitizer.SanitizeName(input)
	second := sanitizer.SanitizeName(first)
	if first != second {
		t.Errorf("SanitizeName is not idempotent: %q then %q", first, second)
	}
}

func TestSanitizeName_Concurrent(t *testing.T) {
	sanitizer := NewNameSanitizer()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := sanitizer.SanitizeName("<b>Grace</b>"); got != "Grace" {
				t.Errorf("SanitizeName = %q, want %q", got, "Grace")
			}
		}()
	}
	wg.Wait()
}
