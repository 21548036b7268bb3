package fetch

import "testing"

func TestDirectResponseDecode(t *testing.T) {
	r := NewDirectResponse([]byte(`{"id":"42"}`))
	var out struct {
		ID string `json:"id"`
	}
	if err := r.DecodeJSON(&out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "42" {
		t.Errorf("ID = %q, want 42", out.ID)
	}
}

func TestSolverResponseDecodesRawJSON(t *testing.T) {
	r := NewSolverResponse(`[{"id":"1"},{"id":"2"}]`)
	var out []struct {
		ID string `json:"id"`
	}
	if err := r.DecodeJSON(&out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[1].ID != "2" {
		t.Errorf("unexpected decode result: %+v", out)
	}
}

func TestSolverResponseExtractsFromPreBlock(t *testing.T) {
	html := `<html><head><title>x</title></head><body><pre>{"id":"99","content":"hi"}</pre></body></html>`
	r := NewSolverResponse(html)
	var out struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	if err := r.DecodeJSON(&out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "99" || out.Content != "hi" {
		t.Errorf("unexpected decode result: %+v", out)
	}
}

func TestSolverResponseNoPreBlock(t *testing.T) {
	r := NewSolverResponse(`<html><body><div>challenge page</div></body></html>`)
	var out map[string]any
	if err := r.DecodeJSON(&out); err == nil {
		t.Fatal("expected error when HTML has no <pre> block")
	}
}

func TestSolverResponseRawText(t *testing.T) {
	r := NewSolverResponse("exact body")
	if r.RawText() != "exact body" {
		t.Errorf("RawText = %q", r.RawText())
	}
}
