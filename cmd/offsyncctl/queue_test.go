package main

import "testing"

func TestParseFields(t *testing.T) {
	got, err := parseFields([]string{"name=Ada", "age=36", "tags=[\"a\",\"b\"]", "bio="})
	if err != nil {
		t.Fatalf("parseFields() error = %v", err)
	}
	if got["name"] != "Ada" {
		t.Errorf("name = %v, want Ada", got["name"])
	}
	if got["age"] != float64(36) {
		t.Errorf("age = %v (%T), want 36", got["age"], got["age"])
	}
	if tags, ok := got["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("tags = %v, want two-element list", got["tags"])
	}
	if got["bio"] != "" {
		t.Errorf("bio = %q, want empty string", got["bio"])
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseFields([]string{bad}); err == nil {
			t.Errorf("parseFields(%q) succeeded, want error", bad)
		}
	}
}
