package translator

import (
	"testing"
)

func TestSanitizeText_RemovesAgePattern(t *testing.T) {
	ConfigureSanitizer(true, nil)
	t.Cleanup(func() { ConfigureSanitizer(false, nil) })
	in := "这是一个 16岁 的学生，内容。"
	out := sanitizeText(in)
	if out == in || out == "" {
		t.Fatalf("expected age pattern removed, got: %q", out)
	}
}

func TestSanitizeText_DisabledPassthrough(t *testing.T) {
	ConfigureSanitizer(false, nil)
	in := "一个 16岁 的学生"
	if out := sanitizeText(in); out != in {
		t.Fatalf("expected passthrough when disabled, got: %q", out)
	}
}

func TestConfigureSanitizer_InvalidPatternFallsBack(t *testing.T) {
	ConfigureSanitizer(true, []string{"(未闭合"})
	t.Cleanup(func() { ConfigureSanitizer(false, nil) })
	out := sanitizeText("学生 16岁 在校")
	if out == "学生 16岁 在校" {
		t.Fatalf("expected default pattern applied after invalid pattern, got: %q", out)
	}
}
