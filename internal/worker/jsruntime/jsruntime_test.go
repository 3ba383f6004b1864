package jsruntime

import "testing"

func TestBindAndCall(t *testing.T) {
	f := NewFake()
	var got []any
	h := f.Bind("greet", func(args ...any) (any, error) {
		got = args
		return "hi", nil
	})
	defer h.Release()

	result, err := f.Call("greet", "world")
	if err != nil {
		t.Fatal(err)
	}
	if result != "hi" || len(got) != 1 || got[0] != "world" {
		t.Fatalf("unexpected call result: %v %v", result, got)
	}
}

func TestReleaseUnbindsFunction(t *testing.T) {
	f := NewFake()
	h := f.Bind("once", func(args ...any) (any, error) { return nil, nil })
	h.Release()

	result, err := f.Call("once")
	if err != nil {
		t.Fatal(err)
	}
	if result != nil {
		t.Fatalf("expected released binding to no-op, got %v", result)
	}
}

func TestDisposeClearsBindings(t *testing.T) {
	f := NewFake()
	f.Bind("x", func(args ...any) (any, error) { return 1, nil })
	f.Dispose()
	if result, _ := f.Call("x"); result != nil {
		t.Fatalf("expected disposed runtime to drop bindings, got %v", result)
	}
}
