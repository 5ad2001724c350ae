package ui

import (
	"strings"
	"testing"
)

func TestNoColorDisablesStyling(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	if ShouldUseColor() {
		t.Fatal("NO_COLOR set but color enabled")
	}
	if got := Pass("confirmed"); got != "confirmed" {
		t.Errorf("Pass styled output under NO_COLOR: %q", got)
	}
	if got := Warn("failed"); got != "failed" {
		t.Errorf("Warn styled output under NO_COLOR: %q", got)
	}

	out := NewTable(40).Headers("A", "B").Row("1", "2").Render()
	if strings.Contains(out, "\x1b[") {
		t.Errorf("table contains ANSI escapes under NO_COLOR:\n%s", out)
	}
}

func TestColorPolicyPrecedence(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE set but color disabled")
	}

	// NO_COLOR wins over everything
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR set but color enabled")
	}

	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("CLICOLOR", "0")
	if ShouldUseColor() {
		t.Error("CLICOLOR=0 but color enabled")
	}
}
