package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ---- test helpers ----

// mustOpenAI builds an OpenAI-dialect provider and fails the test on error.
func mustOpenAI(t *testing.T, url, apiKey, model string, opts ...ProviderOption) Provider {
	t.Helper()
	p, err := NewOpenAIProvider(url, apiKey, model, opts...)
	if err != nil {
		t.Fatalf("NewOpenAIProvider(%q): unexpected error: %v", url, err)
	}
	return p
}

// mustKokoro builds a Kokoro-dialect provider and fails the test on error.
func mustKokoro(t *testing.T, url string, opts ...ProviderOption) Provider {
	t.Helper()
	p, err := NewKokoroProvider(url, "", opts...)
	if err != nil {
		t.Fatalf("NewKokoroProvider(%q): unexpected error: %v", url, err)
	}
	return p
}

// marshalPayload renders the wire body for req as a generic map so tests can
// assert on key presence and absence.
func marshalPayload(t *testing.T, p Provider, req Request) map[string]any {
	t.Helper()
	raw, err := json.Marshal(p.payload(req))
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return m
}

// drainStream reads chunks until a terminal error and returns the
// concatenated audio plus that error.
func drainStream(s Stream) ([]byte, error) {
	var out []byte
	for {
		chunk, err := s.Next()
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
}

// readStep is one scripted result of a fake response body.
type readStep struct {
	data []byte
	err  error
}

// scriptedBody plays back predefined read results, then io.EOF.
type scriptedBody struct {
	steps  []readStep
	closed bool
}

func (r *scriptedBody) Read(p []byte) (int, error) {
	if len(r.steps) == 0 {
		return 0, io.EOF
	}
	st := r.steps[0]
	r.steps = r.steps[1:]
	return copy(p, st.data), st.err
}

func (r *scriptedBody) Close() error {
	r.closed = true
	return nil
}

// ---- provider construction ----

func TestNewOpenAIProvider(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := mustOpenAI(t, "https://api.openai.com/v1/audio/speech", "sk-test", "")
		if p.Kind() != OpenAI {
			t.Errorf("Kind() = %q, want %q", p.Kind(), OpenAI)
		}
		if p.Model() != "tts-1" {
			t.Errorf("Model() = %q, want tts-1", p.Model())
		}
		if _, ok := p.instructionModels["gpt-4o-mini-tts"]; !ok {
			t.Error("default instruction set should contain gpt-4o-mini-tts")
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		if _, err := NewOpenAIProvider("", "", "tts-1"); err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("custom instruction set", func(t *testing.T) {
		p := mustOpenAI(t, "http://proxy.local/v1/audio/speech", "", "tts-1",
			WithInstructionModels("tts-1"))
		body := p.payload(Request{Text: "hi", Voice: "alloy", Speed: 1, Instructions: "whisper"})
		if body.Instructions != "whisper" {
			t.Errorf("Instructions = %q, want carried for configured model", body.Instructions)
		}
	})
}

func TestNewKokoroProvider(t *testing.T) {
	p := mustKokoro(t, "http://localhost:8880/v1/audio/speech")
	if p.Kind() != KokoroFastAPI {
		t.Errorf("Kind() = %q, want %q", p.Kind(), KokoroFastAPI)
	}
	if p.Model() != "kokoro" {
		t.Errorf("Model() = %q, want kokoro", p.Model())
	}
	if p.chunkSize != 0 {
		t.Errorf("chunkSize = %d, want unset without WithChunkSize", p.chunkSize)
	}

	p = mustKokoro(t, "http://localhost:8880/v1/audio/speech", WithChunkSize(250))
	if p.chunkSize != 250 {
		t.Errorf("chunkSize = %d, want 250", p.chunkSize)
	}

	p = mustKokoro(t, "http://localhost:8880/v1/audio/speech", WithChunkSize(-5))
	if p.chunkSize != 0 {
		t.Errorf("chunkSize = %d, want non-positive values ignored", p.chunkSize)
	}
}

// ---- payload shaping ----

func TestPayload_KeyPresence(t *testing.T) {
	openaiBase := mustOpenAI(t, "http://x/v1/audio/speech", "", "tts-1")
	openaiMini := mustOpenAI(t, "http://x/v1/audio/speech", "", "gpt-4o-mini-tts")
	kokoro := mustKokoro(t, "http://x/v1/audio/speech")
	kokoroChunked := mustKokoro(t, "http://x/v1/audio/speech", WithChunkSize(400))

	tests := []struct {
		name      string
		provider  Provider
		req       Request
		wantModel any // nil means key must be absent
		wantChunk any // nil means key must be absent
		wantInstr any // nil means key must be absent
	}{
		{
			name:      "token model basic",
			provider:  openaiBase,
			req:       Request{Text: "Hello", Voice: "alloy", Speed: 1.0},
			wantModel: "tts-1",
		},
		{
			name:      "token model ignores instructions outside set",
			provider:  openaiBase,
			req:       Request{Text: "Hello", Voice: "alloy", Speed: 1.0, Instructions: "cheerful"},
			wantModel: "tts-1",
		},
		{
			name:      "instruction model carries instructions",
			provider:  openaiMini,
			req:       Request{Text: "Hello", Voice: "nova", Speed: 1.2, Instructions: "cheerful"},
			wantModel: "gpt-4o-mini-tts",
			wantInstr: "cheerful",
		},
		{
			name:      "instruction model without instructions omits key",
			provider:  openaiMini,
			req:       Request{Text: "Hello", Voice: "nova", Speed: 1.2},
			wantModel: "gpt-4o-mini-tts",
		},
		{
			name:     "chunked dialect omits model and unset chunk_size",
			provider: kokoro,
			req:      Request{Text: "Hi", Voice: "af_heart", Speed: 1.0},
		},
		{
			name:      "chunked dialect carries configured chunk_size",
			provider:  kokoroChunked,
			req:       Request{Text: "Hi", Voice: "af_heart", Speed: 1.0},
			wantChunk: float64(400),
		},
		{
			name:      "chunked dialect ignores instructions",
			provider:  kokoroChunked,
			req:       Request{Text: "Hi", Voice: "af_heart", Speed: 1.0, Instructions: "slow"},
			wantChunk: float64(400),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := marshalPayload(t, tt.provider, tt.req)

			model, modelPresent := m["model"]
			if tt.wantModel == nil && modelPresent {
				t.Errorf("model present (%v), want absent", model)
			}
			if tt.wantModel != nil && model != tt.wantModel {
				t.Errorf("model = %v, want %v", model, tt.wantModel)
			}
			if m["input"] != tt.req.Text {
				t.Errorf("input = %v, want %v", m["input"], tt.req.Text)
			}
			if m["voice"] != tt.req.Voice {
				t.Errorf("voice = %v, want %v", m["voice"], tt.req.Voice)
			}
			if m["response_format"] != "mp3" {
				t.Errorf("response_format = %v, want mp3", m["response_format"])
			}
			if m["speed"] != tt.req.Speed {
				t.Errorf("speed = %v, want %v", m["speed"], tt.req.Speed)
			}

			chunk, chunkPresent := m["chunk_size"]
			if tt.wantChunk == nil && chunkPresent {
				t.Errorf("chunk_size present (%v), want absent", chunk)
			}
			if tt.wantChunk != nil && chunk != tt.wantChunk {
				t.Errorf("chunk_size = %v, want %v", chunk, tt.wantChunk)
			}

			instr, instrPresent := m["instructions"]
			if tt.wantInstr == nil && instrPresent {
				t.Errorf("instructions present (%v), want absent", instr)
			}
			if tt.wantInstr != nil && instr != tt.wantInstr {
				t.Errorf("instructions = %v, want %v", instr, tt.wantInstr)
			}
		})
	}
}

func TestPayload_ChunkedExactKeys(t *testing.T) {
	p := mustKokoro(t, "http://localhost:8880/v1/audio/speech", WithChunkSize(400))
	m := marshalPayload(t, p, Request{Text: "Hi", Voice: "af_heart", Speed: 1.0})

	want := map[string]any{
		"input":           "Hi",
		"voice":           "af_heart",
		"response_format": "mp3",
		"speed":           float64(1.0),
		"chunk_size":      float64(400),
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
	if len(m) != len(want) {
		t.Errorf("payload keys = %v, want exactly %d keys", m, len(want))
	}
}

// ---- Synthesize ----

func TestSynthesize_RequestShape(t *testing.T) {
	audio := []byte("ID3-fake-mp3-payload")

	var (
		mu      sync.Mutex
		gotAuth string
		gotCT   string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	c := NewClient(mustOpenAI(t, srv.URL, "sk-secret", "tts-1"))
	stream, err := c.Synthesize(context.Background(), Request{Text: "Front door opened", Voice: "shimmer", Speed: 0.9})
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	defer stream.Close()

	got, err := drainStream(stream)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("drain: terminal error = %v, want io.EOF", err)
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("streamed audio = %q, want %q", got, audio)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer sk-secret" {
		t.Errorf("Authorization = %q, want Bearer sk-secret", gotAuth)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotCT)
	}
	if gotBody["voice"] != "shimmer" || gotBody["speed"] != 0.9 {
		t.Errorf("payload = %v, want voice=shimmer speed=0.9", gotBody)
	}
}

func TestSynthesize_NoAuthHeaderWithoutKey(t *testing.T) {
	var (
		mu          sync.Mutex
		authPresent bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_, authPresent = r.Header["Authorization"]
		mu.Unlock()
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	c := NewClient(mustKokoro(t, srv.URL))
	stream, err := c.Synthesize(context.Background(), Request{Text: "Hi", Voice: "af_heart", Speed: 1})
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	stream.Close()

	mu.Lock()
	defer mu.Unlock()
	if authPresent {
		t.Error("Authorization header sent despite empty API key")
	}
}

func TestSynthesize_ChunkedResponseConcatenates(t *testing.T) {
	chunks := [][]byte{
		bytes.Repeat([]byte{0x11}, 1000),
		bytes.Repeat([]byte{0x22}, 1000),
		bytes.Repeat([]byte{0x33}, 1000),
	}
	var want []byte
	for _, c := range chunks {
		want = append(want, c...)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not support flushing")
			return
		}
		for _, c := range chunks {
			_, _ = w.Write(c)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := NewClient(mustKokoro(t, srv.URL))
	stream, err := c.Synthesize(context.Background(), Request{Text: "Hi there", Voice: "af_heart", Speed: 1})
	if err != nil {
		t.Fatalf("Synthesize: unexpected error: %v", err)
	}
	defer stream.Close()

	got, err := drainStream(stream)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("terminal error = %v, want io.EOF", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("concatenated stream differs: got %d bytes, want %d", len(got), len(want))
	}
}

func TestSynthesize_Non2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(mustOpenAI(t, srv.URL, "sk", "tts-1"))
	_, err := c.Synthesize(context.Background(), Request{Text: "Hi", Voice: "alloy", Speed: 1})
	if err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error %T is not *NetworkError", err)
	}
	if netErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", netErr.Status)
	}
	if !strings.Contains(netErr.Message, "model not found") {
		t.Errorf("Message = %q, want body excerpt", netErr.Message)
	}
}

func TestSynthesize_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(mustKokoro(t, url))
	_, err := c.Synthesize(context.Background(), Request{Text: "Hi", Voice: "af_heart", Speed: 1})
	if err == nil {
		t.Fatal("expected error for unreachable backend, got nil")
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error %T is not *NetworkError", err)
	}
	if netErr.Status != 0 {
		t.Errorf("Status = %d, want 0 for transport failure", netErr.Status)
	}
}

func TestSynthesize_CancelledBeforeRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(mustKokoro(t, srv.URL))
	_, err := c.Synthesize(ctx, Request{Text: "Hi", Voice: "af_heart", Speed: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled to pass through", err)
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		t.Error("cancellation must not be reported as *NetworkError")
	}
}

func TestSynthesize_EmptyTextRejected(t *testing.T) {
	c := NewClient(mustKokoro(t, "http://localhost:8880/v1/audio/speech"))
	_, err := c.Synthesize(context.Background(), Request{Text: "   ", Voice: "af_heart", Speed: 1})
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("error %T, want *SynthesisError for empty text", err)
	}
}

// ---- stream behavior ----

func TestStream_SkipsEmptyReads(t *testing.T) {
	body := &scriptedBody{steps: []readStep{
		{data: nil},
		{data: []byte("audio")},
	}}
	s := &httpStream{ctx: context.Background(), body: body, buf: make([]byte, 16)}

	chunk, err := s.Next()
	if err != nil {
		t.Fatalf("Next: unexpected error: %v", err)
	}
	if string(chunk) != "audio" {
		t.Errorf("chunk = %q, want empty read skipped", chunk)
	}
}

func TestStream_FinalShortRead(t *testing.T) {
	body := &scriptedBody{steps: []readStep{
		{data: []byte("tail"), err: io.EOF},
	}}
	s := &httpStream{ctx: context.Background(), body: body, buf: make([]byte, 16)}

	chunk, err := s.Next()
	if err != nil || string(chunk) != "tail" {
		t.Fatalf("Next = (%q, %v), want final bytes before EOF", chunk, err)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("second Next error = %v, want io.EOF", err)
	}
}

func TestStream_MidStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := &scriptedBody{steps: []readStep{
		{data: []byte("one")},
		{data: []byte("two")},
		{err: errors.New("connection reset")},
	}}
	s := &httpStream{ctx: ctx, body: body, buf: make([]byte, 16)}

	for _, want := range []string{"one", "two"} {
		chunk, err := s.Next()
		if err != nil || string(chunk) != want {
			t.Fatalf("Next = (%q, %v), want (%q, nil)", chunk, err, want)
		}
	}

	cancel()
	_, err := s.Next()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error after cancel = %v, want context.Canceled", err)
	}
}

func TestStream_MidStreamTransportError(t *testing.T) {
	body := &scriptedBody{steps: []readStep{
		{data: []byte("one")},
		{err: errors.New("connection reset")},
	}}
	s := &httpStream{ctx: context.Background(), body: body, buf: make([]byte, 16)}

	if _, err := s.Next(); err != nil {
		t.Fatalf("first Next: unexpected error: %v", err)
	}
	_, err := s.Next()
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("mid-stream error %T, want *NetworkError", err)
	}
}

func TestStream_CloseIdempotent(t *testing.T) {
	body := &scriptedBody{steps: []readStep{{data: []byte("x")}}}
	s := &httpStream{ctx: context.Background(), body: body, buf: make([]byte, 16)}

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !body.closed {
		t.Error("underlying body not closed")
	}
	if _, err := s.Next(); err == nil {
		t.Error("Next after Close should fail")
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	c := NewClient(mustKokoro(t, "http://localhost:8880/v1/audio/speech"))
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
