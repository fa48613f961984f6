package util

import (
	"fmt"
	"sync"
	"testing"
)

func TestTemplateCaching(t *testing.T) {
	ClearTemplateCache()

	tmpl := "Hello {{.Name}}"

	for _, name := range []string{"World", "World", "Gopher"} {
		got, err := RenderTemplate(tmpl, map[string]any{"Name": name})
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}
		if want := "Hello " + name; got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}

	if _, ok := templateCache.Load(tmpl); !ok {
		t.Error("template was not cached")
	}
}

func TestTemplateCachingPreservesValidation(t *testing.T) {
	ClearTemplateCache()

	bad := `{{template "x"}}`
	for i := 0; i < 2; i++ {
		if _, err := RenderTemplate(bad, map[string]any{}); err == nil {
			t.Fatalf("attempt %d: forbidden template rendered", i)
		}
	}
	if _, ok := templateCache.Load(bad); ok {
		t.Error("rejected template must not be cached")
	}
}

func TestTemplateCachingConcurrency(t *testing.T) {
	ClearTemplateCache()

	tmpl := "Spec: {{.Spec}}"
	var wg sync.WaitGroup
	errs := make(chan error, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			want := fmt.Sprintf("Spec: %d", n)
			got, err := RenderTemplate(tmpl, map[string]any{"Spec": n})
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- fmt.Errorf("got %q, want %q", got, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent render failed: %v", err)
	}
}

func TestClearTemplateCache(t *testing.T) {
	ClearTemplateCache()

	tmpl := "Test: {{.Value}}"
	if _, err := RenderTemplate(tmpl, map[string]any{"Value": "123"}); err != nil {
		t.Fatalf("Initial render failed: %v", err)
	}

	ClearTemplateCache()
	if _, ok := templateCache.Load(tmpl); ok {
		t.Fatal("cache not cleared")
	}

	result, err := RenderTemplate(tmpl, map[string]any{"Value": "123"})
	if err != nil {
		t.Fatalf("Render after clear failed: %v", err)
	}
	if result != "Test: 123" {
		t.Errorf("Expected 'Test: 123', got '%s'", result)
	}
}
