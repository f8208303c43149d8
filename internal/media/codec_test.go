package media

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"testing"
)

type countingRecorder struct {
	count int
}

func (r *countingRecorder) RecordImageDecodeFailure() {
	r.count++
}

func newTestCodec(buf *bytes.Buffer) *Codec {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewCodec(0, logger, nil)
}

func TestNewCodec_DefaultMinLength(t *testing.T) {
	c := NewCodec(0, nil, nil)
	if c.minLength != DefaultMinLength {
		t.Errorf("minLength = %d, want %d", c.minLength, DefaultMinLength)
	}
}

func TestResolveImage_DataURIUnchanged(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	inputs := []string{
		"data:image/jpeg;base64,/9j/4AAQSkZJRgABAQ==",
		"data:image/png;base64,iVBORw0KGgo=",
	}
	for _, in := range inputs {
		got, ok := c.ResolveImage(map[string]any{"photo": in})
		if !ok {
			t.Fatalf("ResolveImage(%q) returned absent", in)
		}
		if got != in {
			t.Errorf("ResolveImage(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestResolveImage_HexAndBase64Equivalent(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	hexValues := []string{"deadbeef", "DEADBEEF", "ffd8ffe000104a46", "00ff10"}
	for _, h := range hexValues {
		raw, err := hex.DecodeString(h)
		if err != nil {
			t.Fatalf("hex.DecodeString(%q): %v", h, err)
		}
		b64 := base64.StdEncoding.EncodeToString(raw)

		fromHex, ok := c.ResolveImage(map[string]any{"photo": h})
		if !ok {
			t.Fatalf("hex %q resolved to absent", h)
		}
		fromB64, ok := c.ResolveImage(map[string]any{"photo": b64})
		if !ok {
			t.Fatalf("base64 %q resolved to absent", b64)
		}
		if fromHex != fromB64 {
			t.Errorf("hex %q -> %q, base64 %q -> %q; want equal", h, fromHex, b64, fromB64)
		}
	}
}

func TestResolveImage_DeadbeefScenario(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	want := "data:image/jpeg;base64,3q2+7w=="

	got1, ok1 := c.ResolveImage(map[string]any{"photo": "deadbeef"})
	got2, ok2 := c.ResolveImage(map[string]any{"photo": base64.StdEncoding.EncodeToString([]byte{0xde, 0xad, 0xbe, 0xef})})
	if !ok1 || !ok2 {
		t.Fatalf("expected both to resolve, got ok1=%v ok2=%v", ok1, ok2)
	}
	if got1 != want || got2 != want {
		t.Errorf("got %q and %q, want both %q", got1, got2, want)
	}
}

func TestResolveImage_KeyPriority(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	record := map[string]any{
		"image":     "aW1hZ2U=",
		"userphoto": "dXNlcnBob3Rv",
	}
	got, ok := c.ResolveImage(record)
	if !ok {
		t.Fatal("expected image to resolve")
	}
	if got != DataURIPrefix+"dXNlcnBob3Rv" {
		t.Errorf("got %q, want userphoto to win over image", got)
	}
}

func TestResolveImage_SkipsShortAndNonString(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	record := map[string]any{
		"photo":      "",
		"userphoto":  "ab",
		"avatar":     12345,
		"user_photo": "dXNlcl9waG90bw==",
	}
	got, ok := c.ResolveImage(record)
	if !ok {
		t.Fatal("expected user_photo to resolve")
	}
	if got != DataURIPrefix+"dXNlcl9waG90bw==" {
		t.Errorf("got %q", got)
	}
}

func TestResolveImage_Absent(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	tests := []map[string]any{
		nil,
		{},
		{"username": "alice"},
		{"photo": nil},
		{"photo": "x"},
	}
	for _, rec := range tests {
		if got, ok := c.ResolveImage(rec); ok {
			t.Errorf("ResolveImage(%v) = %q, want absent", rec, got)
		}
	}
}

func TestResolveImage_JSONQuotedValue(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	got, ok := c.ResolveImage(map[string]any{"photo": `"deadbeef"`})
	if !ok {
		t.Fatal("expected JSON-quoted value to resolve")
	}
	if got != DataURIPrefix+"3q2+7w==" {
		t.Errorf("got %q, want hex payload decoded", got)
	}
}

func TestResolveImage_StripsSingleQuotes(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	got, ok := c.ResolveImage(map[string]any{"avatar": "'aGVsbG8='"})
	if !ok {
		t.Fatal("expected quoted value to resolve")
	}
	if got != DataURIPrefix+"aGVsbG8=" {
		t.Errorf("got %q", got)
	}
}

func TestResolveImage_HexWithWhitespace(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	got, ok := c.ResolveImage(map[string]any{"photo": "de ad\nbe ef"})
	if !ok {
		t.Fatal("expected hex with whitespace to resolve")
	}
	if got != DataURIPrefix+"3q2+7w==" {
		t.Errorf("got %q", got)
	}
}

func TestResolveImage_OddLengthHexTreatedAsBase64(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	got, ok := c.ResolveImage(map[string]any{"photo": "abcde"})
	if !ok {
		t.Fatal("expected value to resolve")
	}
	if got != DataURIPrefix+"abcde" {
		t.Errorf("got %q, want raw payload", got)
	}
}

func TestResolveOr_Placeholder(t *testing.T) {
	var buf bytes.Buffer
	c := newTestCodec(&buf)

	got := c.ResolveOr(map[string]any{"username": "bob"}, "/static/default-user.png")
	if got != "/static/default-user.png" {
		t.Errorf("ResolveOr = %q, want placeholder", got)
	}
}

func TestNewCodec_CustomMinLength(t *testing.T) {
	c := NewCodec(100, nil, &countingRecorder{})
	if _, ok := c.ResolveImage(map[string]any{"photo": "deadbeef"}); ok {
		t.Error("values shorter than minLength must be ignored")
	}
}

func TestResolveField_OnlyNamedKeys(t *testing.T) {
	c := NewCodec(0, nil, nil)
	record := map[string]any{
		"photo":     "deadbeef",
		"userphoto": "cafebabe",
	}

	got, ok := c.ResolveField(record, "userphoto")
	if !ok {
		t.Fatal("ResolveField(userphoto) should resolve")
	}
	want, _ := c.Normalize("cafebabe")
	if got != want {
		t.Errorf("ResolveField(userphoto) = %q, want %q", got, want)
	}

	if _, ok := c.ResolveField(record, "avatar"); ok {
		t.Error("ResolveField(avatar) should not fall back to other keys")
	}
}
