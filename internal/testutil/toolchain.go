package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/islandcheck/internal/toolchain"
)

// LinkStep is what one simulated link call produces.
type LinkStep struct {
	Binary   []byte
	Map      []byte
	ExitCode int

	// SkipBinary and SkipMap suppress writing the respective output, as a
	// crashed or misbehaving linker would.
	SkipBinary bool
	SkipMap    bool
}

// LinkScript decides the outcome of the call-th link (0-based).
type LinkScript func(call int, req toolchain.LinkRequest) LinkStep

// Toolchain is a simulated toolchain.Toolchain for tests.
//
// Compile writes a small object file whose content depends only on the
// unit ID. Link writes whatever Script returns.
//
// Thread-safety: all methods are safe for concurrent use.
type Toolchain struct {
	// FailUnits lists unit IDs whose compile fails.
	FailUnits map[string]bool

	// Script drives Link. Nil means Deterministic.
	Script LinkScript

	mu       sync.Mutex
	calls    int
	requests []toolchain.LinkRequest
	compiled []string
}

var _ toolchain.Toolchain = (*Toolchain)(nil)

// Compile implements toolchain.Toolchain.
func (f *Toolchain) Compile(ctx context.Context, req toolchain.CompileRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.FailUnits[req.Unit.ID] {
		return "", &toolchain.ProcessError{Tool: "fakecc", ExitCode: 1, Output: "error: simulated failure in " + req.Unit.ID}
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(req.OutputPath, []byte("obj:"+req.Unit.ID+"\n"), 0o644); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.compiled = append(f.compiled, req.Unit.ID)
	f.mu.Unlock()
	return req.OutputPath, nil
}

// Link implements toolchain.Toolchain.
func (f *Toolchain) Link(ctx context.Context, req toolchain.LinkRequest) (*toolchain.LinkOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	call := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	script := f.Script
	f.mu.Unlock()

	if script == nil {
		script = Deterministic()
	}
	step := script(call, req)

	if err := os.MkdirAll(filepath.Dir(req.BinaryPath), 0o755); err != nil {
		return nil, err
	}
	if !step.SkipBinary {
		if err := os.WriteFile(req.BinaryPath, step.Binary, 0o755); err != nil {
			return nil, err
		}
	}
	if !step.SkipMap {
		if err := os.WriteFile(req.MapPath, step.Map, 0o644); err != nil {
			return nil, err
		}
	}
	if req.LogPath != "" {
		log := fmt.Sprintf("$ fakeld call %d (%s)\nexit: %d\n", call, req.Strategy, step.ExitCode)
		if err := os.WriteFile(req.LogPath, []byte(log), 0o644); err != nil {
			return nil, err
		}
	}

	out := &toolchain.LinkOutput{BinaryPath: req.BinaryPath, MapPath: req.MapPath, ExitCode: step.ExitCode}
	if step.ExitCode != 0 {
		return out, &toolchain.ProcessError{Tool: "fakeld", ExitCode: step.ExitCode, LogPath: req.LogPath}
	}
	return out, nil
}

// LinkCalls returns the number of Link invocations so far.
func (f *Toolchain) LinkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LinkRequests returns a copy of every Link request received.
func (f *Toolchain) LinkRequests() []toolchain.LinkRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolchain.LinkRequest(nil), f.requests...)
}

// Compiled returns the IDs of successfully compiled units, in completion order.
func (f *Toolchain) Compiled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.compiled...)
}

// Deterministic produces the same binary and, apart from the restated
// output path, the same map on every call.
func Deterministic() LinkScript {
	return func(_ int, req toolchain.LinkRequest) LinkStep {
		return LinkStep{
			Binary: binaryFor(req.Inputs),
			Map:    RenderMap(req.BinaryPath, req.Inputs, 0),
		}
	}
}

// MapOrderFlaky keeps the binary stable but rotates the island order in
// the map on every call.
func MapOrderFlaky() LinkScript {
	return func(call int, req toolchain.LinkRequest) LinkStep {
		return LinkStep{
			Binary: binaryFor(req.Inputs),
			Map:    RenderMap(req.BinaryPath, req.Inputs, call),
		}
	}
}

// AlwaysFails exits non-zero without writing any output.
func AlwaysFails() LinkScript {
	return func(int, toolchain.LinkRequest) LinkStep {
		return LinkStep{ExitCode: 1, SkipBinary: true, SkipMap: true}
	}
}

// ExitZeroWithoutMap reports success but never writes the map.
func ExitZeroWithoutMap() LinkScript {
	return func(_ int, req toolchain.LinkRequest) LinkStep {
		return LinkStep{Binary: binaryFor(req.Inputs), SkipMap: true}
	}
}

// Sequence replays scripts by call number; the last one repeats.
func Sequence(scripts ...LinkScript) LinkScript {
	return func(call int, req toolchain.LinkRequest) LinkStep {
		i := min(call, len(scripts)-1)
		return scripts[i](call, req)
	}
}

// Variant returns a script producing a binary and map tagged with label,
// so different labels yield different hashes.
func Variant(label string) LinkScript {
	return func(_ int, req toolchain.LinkRequest) LinkStep {
		bin := append(binaryFor(req.Inputs), []byte(label)...)
		m := RenderMap(req.BinaryPath, req.Inputs, 0)
		m = append(m, []byte("# variant "+label+"\n")...)
		return LinkStep{Binary: bin, Map: m}
	}
}

func binaryFor(inputs []string) []byte {
	var b strings.Builder
	b.WriteString("\xcf\xfa\xed\xfe")
	for _, in := range inputs {
		b.WriteString(filepath.Base(in))
		b.WriteByte(0)
	}
	return []byte(b.String())
}

// RenderMap renders an ld64-style link map. The first line restates the
// absolute output path; the island section lists one island per input,
// rotated by rotate positions.
func RenderMap(binaryPath string, inputs []string, rotate int) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Path: %s\n", binaryPath)
	b.WriteString("# Arch: arm64\n")
	b.WriteString("# Object files:\n")
	b.WriteString("[  0] linker synthesized\n")
	for i, in := range inputs {
		fmt.Fprintf(&b, "[%3d] %s\n", i+1, filepath.Base(in))
	}
	b.WriteString("# Symbols:\n")
	b.WriteString("# Address\tSize\tFile\tName\n")

	n := len(inputs)
	for i := 0; i < n; i++ {
		j := i
		if n > 0 {
			j = (i + rotate) % n
		}
		name := strings.TrimSuffix(filepath.Base(inputs[j]), filepath.Ext(inputs[j]))
		fmt.Fprintf(&b, "0x%08X\t0x%08X\t[  0]\t_%s.island\n", 0x100000000+i*12, 12, name)
	}
	return []byte(b.String())
}
