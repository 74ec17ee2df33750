// Package fakeguest assembles small Wasm modules that speak the guest side
// of the parse_expression protocol, for tests that cannot build the real
// wasip1 guest.
//
// The module has one page of memory, a bump allocator behind malloc (free and
// free_rust_string never reclaim anything), and answers every
// parse_expression call with a fresh copy of a fixed reply. timestamp reads
// the realtime clock through WASI clock_time_get.
package fakeguest

// Layout of linear memory.
const (
	scratchAddr = 8    // 8-byte slot for clock_time_get
	replyAddr   = 16   // NUL-terminated reply
	HeapBase    = 1024 // first address handed out by malloc
)

// Function indices; the WASI import takes index 0.
const (
	fnClock = iota
	fnMalloc
	fnFree
	fnParse
	fnParseStatus
	fnFreeString
	fnTimestamp
)

const (
	typeI32toI32 = iota
	typeI32
	typeI32I32toI32
	typeToI64
	typeClock
)

// Options selects which exports the module provides.
type Options struct {
	// Reply is returned by every parse call.
	Reply string
	// Status is returned by parse_expression_status.
	Status int32
	// Omit lists exports to leave out.
	Omit []string
}

// Module returns a guest that answers every call with reply and status.
func Module(reply string, status int32) []byte {
	return Build(Options{Reply: reply, Status: status})
}

// Build assembles the module described by opts.
func Build(opts Options) []byte {
	reply := append([]byte(opts.Reply), 0)
	if replyAddr+len(reply) > HeapBase {
		panic("fakeguest: reply too long")
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	out = append(out, section(1, vec(
		[]byte{0x60, 0x01, 0x7f, 0x01, 0x7f},             // (i32) -> i32
		[]byte{0x60, 0x01, 0x7f, 0x00},                   // (i32) -> ()
		[]byte{0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f},       // (i32, i32) -> i32
		[]byte{0x60, 0x00, 0x01, 0x7e},                   // () -> i64
		[]byte{0x60, 0x03, 0x7f, 0x7e, 0x7f, 0x01, 0x7f}, // (i32, i64, i32) -> i32
	))...)

	out = append(out, section(2, vec(
		cat(name("wasi_snapshot_preview1"), name("clock_time_get"), []byte{0x00, typeClock}),
	))...)

	out = append(out, section(3, vec(
		[]byte{typeI32toI32},    // malloc
		[]byte{typeI32},         // free
		[]byte{typeI32toI32},    // parse_expression
		[]byte{typeI32I32toI32}, // parse_expression_status
		[]byte{typeI32},         // free_rust_string
		[]byte{typeToI64},       // timestamp
	))...)

	out = append(out, section(5, vec([]byte{0x00, 0x01}))...)

	out = append(out, section(6, vec(
		cat([]byte{0x7f, 0x01, 0x41}, sleb(HeapBase), []byte{0x0b}),
	))...)

	exports := [][]byte{cat(name("memory"), []byte{0x02, 0x00})}
	for _, e := range []struct {
		name string
		idx  byte
	}{
		{"malloc", fnMalloc},
		{"free", fnFree},
		{"parse_expression", fnParse},
		{"parse_expression_status", fnParseStatus},
		{"free_rust_string", fnFreeString},
		{"timestamp", fnTimestamp},
	} {
		if contains(opts.Omit, e.name) {
			continue
		}
		exports = append(exports, cat(name(e.name), []byte{0x00, e.idx}))
	}
	out = append(out, section(7, vec(exports...))...)

	out = append(out, section(10, vec(
		// malloc: old := heap; heap += size; return old
		body(nil, []byte{0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6a, 0x24, 0x00}),
		// free: no-op
		body(nil, nil),
		// parse_expression: p := malloc(len); memory.copy(p, reply, len); return p
		body([]byte{0x01, 0x01, 0x7f}, cat(
			[]byte{0x41}, sleb(int64(len(reply))),
			[]byte{0x10, fnMalloc},
			[]byte{0x22, 0x01},
			[]byte{0x41}, sleb(replyAddr),
			[]byte{0x41}, sleb(int64(len(reply))),
			[]byte{0xfc, 0x0a, 0x00, 0x00},
			[]byte{0x20, 0x01},
		)),
		// parse_expression_status: *out = parse_expression(in); return status
		body(nil, cat(
			[]byte{0x20, 0x01, 0x20, 0x00},
			[]byte{0x10, fnParse},
			[]byte{0x36, 0x02, 0x00},
			[]byte{0x41}, sleb(int64(opts.Status)),
		)),
		// free_rust_string: no-op
		body(nil, nil),
		// timestamp: clock_time_get(realtime, 0, scratch); return *scratch
		body(nil, cat(
			[]byte{0x41, 0x00},
			[]byte{0x42, 0x00},
			[]byte{0x41}, sleb(scratchAddr),
			[]byte{0x10, fnClock},
			[]byte{0x1a},
			[]byte{0x41}, sleb(scratchAddr),
			[]byte{0x29, 0x03, 0x00},
		)),
	))...)

	out = append(out, section(11, vec(
		cat([]byte{0x00, 0x41}, sleb(replyAddr), []byte{0x0b}, uleb(uint64(len(reply))), reply),
	))...)

	return out
}

// Empty returns the smallest valid module: no imports, no exports.
func Empty() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

func body(locals, code []byte) []byte {
	if locals == nil {
		locals = []byte{0x00}
	}
	b := cat(locals, code, []byte{0x0b})
	return cat(uleb(uint64(len(b))), b)
}

func section(id byte, content []byte) []byte {
	return cat([]byte{id}, uleb(uint64(len(content))), content)
}

func vec(items ...[]byte) []byte {
	return cat(append([][]byte{uleb(uint64(len(items)))}, items...)...)
}

func name(s string) []byte {
	return cat(uleb(uint64(len(s))), []byte(s))
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
