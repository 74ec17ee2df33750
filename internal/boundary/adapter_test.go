package boundary

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woxQAQ/exprbridge/pkg/expr"
	"go.uber.org/zap/zaptest"
)

// trackingHeap records every allocation made through it and refuses to pass
// a pointer it does not consider live down to the real allocator.
type trackingHeap struct {
	inner Heap

	mu          sync.Mutex
	live        map[uintptr]struct{}
	allocs      int
	frees       int
	badReleases int
}

func newTrackingHeap() *trackingHeap {
	return &trackingHeap{inner: DefaultHeap(), live: make(map[uintptr]struct{})}
}

func (h *trackingHeap) Alloc(size int) unsafe.Pointer {
	p := h.inner.Alloc(size)
	h.mu.Lock()
	h.live[uintptr(p)] = struct{}{}
	h.allocs++
	h.mu.Unlock()
	return p
}

func (h *trackingHeap) Free(p unsafe.Pointer) {
	h.mu.Lock()
	if _, ok := h.live[uintptr(p)]; !ok {
		h.badReleases++
		h.mu.Unlock()
		return
	}
	delete(h.live, uintptr(p))
	h.frees++
	h.mu.Unlock()
	h.inner.Free(p)
}

func (h *trackingHeap) outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// stubParse succeeds with "3" for "1+2", fails for "1+" and echoes anything
// else prefixed with "parsed:".
func stubParse(text string) (string, error) {
	switch text {
	case "1+2":
		return "3", nil
	case "1+":
		return "", errors.New("unexpected end of input")
	default:
		return "parsed:" + text, nil
	}
}

type fixture struct {
	adapter *Adapter
	heap    *trackingHeap
	// caller stands in for the foreign process's own allocator.
	caller *PinnedHeap
}

func newFixture(t *testing.T, parse ParseFunc) *fixture {
	t.Helper()
	heap := newTrackingHeap()
	return &fixture{
		adapter: New(parse, WithHeap(heap), WithLogger(zaptest.NewLogger(t))),
		heap:    heap,
		caller:  NewPinnedHeap(),
	}
}

func (f *fixture) input(t *testing.T, s string) unsafe.Pointer {
	t.Helper()
	p := CString(f.caller, s)
	t.Cleanup(func() { f.caller.Free(p) })
	return p
}

// call runs ParseExpression and releases the result, returning its text.
func (f *fixture) call(input unsafe.Pointer) string {
	out := f.adapter.ParseExpression(input)
	defer f.adapter.Release(out)
	return GoString(out)
}

func TestParseExpressionScenarios(t *testing.T) {
	f := newFixture(t, stubParse)

	assert.Equal(t, "3", f.call(f.input(t, "1+2")))
	assert.Equal(t, "Error: unexpected end of input", f.call(f.input(t, "1+")))
	assert.Equal(t, "parsed:", f.call(nil))

	assert.Zero(t, f.heap.outstanding())
	assert.Zero(t, f.heap.badReleases)
}

func TestParseExpressionWithExprParser(t *testing.T) {
	f := newFixture(t, expr.Parse)

	assert.Equal(t, "3", f.call(f.input(t, "1+2")))
	assert.Equal(t, "Error: unexpected end of input", f.call(f.input(t, "1+")))
	assert.Equal(t, "Error: empty expression", f.call(nil))
	assert.Equal(t, "Error: division by zero", f.call(f.input(t, "1/0")))
}

func TestReturnedBufferIsAlwaysFreshAndOwned(t *testing.T) {
	f := newFixture(t, expr.Parse)

	inputs := []string{"1+2", "1+", "", "(2+3)*4", "invalid", "1/3"}
	for _, s := range inputs {
		in := f.input(t, s)
		out := f.adapter.ParseExpression(in)

		require.NotNil(t, out, "input %q", s)
		assert.NotEqual(t, in, out, "input %q aliased", s)
		assert.False(t, f.caller.Owns(out), "input %q returned caller memory", s)

		f.adapter.Release(out)
	}

	assert.Equal(t, len(inputs), f.heap.allocs)
	assert.Equal(t, len(inputs), f.heap.frees)
	assert.Zero(t, f.heap.outstanding())
	assert.Zero(t, f.heap.badReleases)
}

func TestInputIsNotReleased(t *testing.T) {
	f := newFixture(t, stubParse)

	in := f.input(t, "1+2")
	f.call(in)

	assert.True(t, f.caller.Owns(in))
	assert.Equal(t, "1+2", GoString(in))
}

func TestReleaseNil(t *testing.T) {
	f := newFixture(t, stubParse)

	assert.NotPanics(t, func() {
		f.adapter.Release(nil)
		f.adapter.Release(nil)
	})
	assert.Zero(t, f.heap.frees)
	assert.Zero(t, f.heap.badReleases)
}

func TestErrorPrefixOnFailure(t *testing.T) {
	f := newFixture(t, expr.Parse)

	for _, s := range []string{"1+", "", "invalid", "(1", "1/0", "*"} {
		got := f.call(f.input(t, s))
		assert.True(t, strings.HasPrefix(got, ErrorPrefix), "input %q gave %q", s, got)
	}
}

func TestNullInputMatchesEmptyInput(t *testing.T) {
	for name, parse := range map[string]ParseFunc{"stub": stubParse, "expr": expr.Parse} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, parse)
			assert.Equal(t, f.call(f.input(t, "")), f.call(nil))
		})
	}
}

func TestInvalidUTF8DecodesAsEmpty(t *testing.T) {
	var seen []string
	f := newFixture(t, func(text string) (string, error) {
		seen = append(seen, text)
		return "ok", nil
	})

	in := f.caller.Alloc(4)
	t.Cleanup(func() { f.caller.Free(in) })
	copy(unsafe.Slice((*byte)(in), 4), []byte{0xff, 0xfe, 'a', 0})

	assert.Equal(t, "ok", f.call(in))
	assert.Equal(t, []string{""}, seen)
}

func TestRepeatedCallsReleaseIndependently(t *testing.T) {
	f := newFixture(t, stubParse)
	in := f.input(t, "1+2")

	first := f.adapter.ParseExpression(in)
	second := f.adapter.ParseExpression(in)
	require.NotEqual(t, first, second)

	assert.Equal(t, "3", GoString(first))
	assert.Equal(t, "3", GoString(second))

	f.adapter.Release(first)
	f.adapter.Release(second)

	assert.Equal(t, 2, f.heap.frees)
	assert.Zero(t, f.heap.outstanding())
	assert.Zero(t, f.heap.badReleases)
}

func TestParseExpressionStatus(t *testing.T) {
	f := newFixture(t, stubParse)

	out, status := f.adapter.ParseExpressionStatus(f.input(t, "1+2"))
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, "3", GoString(out))
	f.adapter.Release(out)

	out, status = f.adapter.ParseExpressionStatus(f.input(t, "1+"))
	assert.Equal(t, StatusParseError, status)
	assert.Equal(t, "unexpected end of input", GoString(out))
	f.adapter.Release(out)

	out, status = f.adapter.ParseExpressionStatus(nil)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, "parsed:", GoString(out))
	f.adapter.Release(out)

	assert.Zero(t, f.heap.outstanding())
}

func TestParseExpressionIntoStoresResult(t *testing.T) {
	f := newFixture(t, stubParse)

	var out unsafe.Pointer
	status := f.adapter.ParseExpressionInto(f.input(t, "1+2"), &out)
	assert.Equal(t, StatusOK, status)
	require.NotNil(t, out)
	assert.Equal(t, "3", GoString(out))
	assert.Equal(t, 1, f.heap.outstanding())
	f.adapter.Release(out)

	status = f.adapter.ParseExpressionInto(f.input(t, "1+"), &out)
	assert.Equal(t, StatusParseError, status)
	assert.Equal(t, "unexpected end of input", GoString(out))
	f.adapter.Release(out)

	assert.Zero(t, f.heap.outstanding())
	assert.Zero(t, f.heap.badReleases)
}

func TestParseExpressionIntoNilOutReleases(t *testing.T) {
	f := newFixture(t, stubParse)

	assert.Equal(t, StatusOK, f.adapter.ParseExpressionInto(f.input(t, "1+2"), nil))
	assert.Equal(t, StatusParseError, f.adapter.ParseExpressionInto(f.input(t, "1+"), nil))
	assert.Equal(t, StatusOK, f.adapter.ParseExpressionInto(nil, nil))

	assert.Equal(t, 3, f.heap.allocs)
	assert.Equal(t, 3, f.heap.frees)
	assert.Zero(t, f.heap.outstanding())
	assert.Zero(t, f.heap.badReleases)
}

func TestDeeplyNestedInputIsAnError(t *testing.T) {
	f := newFixture(t, expr.Parse)

	deep := strings.Repeat("(", 5_000_000) + "1"
	assert.Equal(t, "Error: expression nested too deeply at offset 1000", f.call(f.input(t, deep)))

	out, status := f.adapter.ParseExpressionStatus(f.input(t, strings.Repeat("-", 100_000)+"1"))
	assert.Equal(t, StatusParseError, status)
	assert.Equal(t, "expression nested too deeply at offset 1000", GoString(out))
	f.adapter.Release(out)

	assert.Zero(t, f.heap.outstanding())
}

// failingHeap cannot allocate.
type failingHeap struct{}

func (failingHeap) Alloc(int) unsafe.Pointer { panic("out of memory") }
func (failingHeap) Free(unsafe.Pointer) {}

func TestAllocationFailureIsNotReported(t *testing.T) {
	called := false
	a := New(func(text string) (string, error) {
		called = true
		return text, nil
	}, WithHeap(failingHeap{}), WithLogger(zaptest.NewLogger(t)))

	assert.PanicsWithValue(t, "out of memory", func() { a.ParseExpression(nil) })
	assert.PanicsWithValue(t, "out of memory", func() { a.ParseExpressionInto(nil, nil) })
	assert.True(t, called)
}

func TestParserPanicIsReportedAsError(t *testing.T) {
	f := newFixture(t, func(string) (string, error) {
		panic("boom")
	})

	assert.Equal(t, "Error: parser panic: boom", f.call(f.input(t, "1+2")))

	out, status := f.adapter.ParseExpressionStatus(nil)
	assert.Equal(t, StatusParseError, status)
	assert.Equal(t, "parser panic: boom", GoString(out))
	f.adapter.Release(out)

	assert.Zero(t, f.heap.outstanding())
}

func TestConcurrentCalls(t *testing.T) {
	f := newFixture(t, expr.Parse)

	cases := map[string]string{
		"1+2":  "3",
		"10+5": "15",
		"3+4":  "7",
		"8+2":  "10",
		"1+":   "Error: unexpected end of input",
	}

	var wg sync.WaitGroup
	errs := make(chan string, 50*len(cases))
	for i := 0; i < 50; i++ {
		for input, want := range cases {
			wg.Add(1)
			go func() {
				defer wg.Done()
				in := CString(f.caller, input)
				defer f.caller.Free(in)

				if got := f.call(in); got != want {
					errs <- input + " => " + got
				}
			}()
		}
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
	assert.Zero(t, f.heap.outstanding())
	assert.Zero(t, f.heap.badReleases)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "parse_error", StatusParseError.String())
	assert.Equal(t, "status(7)", Status(7).String())
}
