package backend

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/core"
)

//go:embed sheet_engine.py
var engineScript []byte

// Engine resolution modes.
const (
	ModeBundled = "bundled"
	ModeDev     = "dev"
	ModeInline  = "inline"
)

// probeTimeout bounds the interpreter dependency check.
const probeTimeout = 20 * time.Second

// Command is a resolved engine invocation. Engine arguments are appended to
// Args for every call.
type Command struct {
	Path string
	Args []string
	Env  []string
	Mode string
}

// ResolveFunc produces the command used to start the engine.
type ResolveFunc func(ctx context.Context) (Command, error)

// Static always resolves to cmd.
func Static(cmd Command) ResolveFunc {
	return func(context.Context) (Command, error) { return cmd, nil }
}

// Resolver locates the engine executable. Resolution order:
//
//  1. ENGINE_BINARY, then a platform binary in the bundle directory
//  2. the interpreter running ENGINE_SCRIPT (development mode)
//  3. the interpreter running the embedded script written to a temp file
//
// A successful resolution is cached; failures are retried on the next call.
type Resolver struct {
	cfg config.EngineConfig

	// lookPath and probe are replaceable in tests.
	lookPath func(string) (string, error)
	probe    func(ctx context.Context, interpreter string) error

	mu       sync.Mutex
	resolved *Command
	tempFile string
}

// NewResolver creates a Resolver for cfg.
func NewResolver(cfg config.EngineConfig) *Resolver {
	return &Resolver{
		cfg:      cfg,
		lookPath: exec.LookPath,
		probe:    probeInterpreter,
	}
}

// BinaryName is the platform-specific bundled engine file name.
func BinaryName() string {
	name := fmt.Sprintf("sheet-engine-%s-%s", runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return name
}

// Resolve implements ResolveFunc.
func (r *Resolver) Resolve(ctx context.Context) (Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		return *r.resolved, nil
	}

	var tried []string

	for _, candidate := range r.binaryCandidates() {
		if isExecutable(candidate) {
			return r.remember(Command{Path: candidate, Mode: ModeBundled}), nil
		}
		tried = append(tried, "binary "+candidate)
	}

	interpreter, err := r.lookPath(r.cfg.Interpreter)
	if err != nil {
		tried = append(tried, fmt.Sprintf("interpreter %s (not on PATH)", r.cfg.Interpreter))
		return Command{}, &core.EngineUnavailableError{Tried: tried}
	}
	if err := r.probe(ctx, interpreter); err != nil {
		tried = append(tried, fmt.Sprintf("interpreter %s (%v)", interpreter, err))
		return Command{}, &core.EngineUnavailableError{Tried: tried}
	}

	if r.cfg.Script != "" {
		if _, err := os.Stat(r.cfg.Script); err == nil {
			return r.remember(Command{Path: interpreter, Args: []string{r.cfg.Script}, Mode: ModeDev}), nil
		}
		tried = append(tried, "script "+r.cfg.Script)
	}

	script, err := writeInlineScript()
	if err != nil {
		tried = append(tried, fmt.Sprintf("inline script (%v)", err))
		return Command{}, &core.EngineUnavailableError{Tried: tried}
	}
	r.tempFile = script
	return r.remember(Command{Path: interpreter, Args: []string{script}, Mode: ModeInline}), nil
}

// Close removes the inline script, if one was written.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolved = nil
	if r.tempFile == "" {
		return nil
	}
	err := os.Remove(r.tempFile)
	r.tempFile = ""
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (r *Resolver) remember(cmd Command) Command {
	r.resolved = &cmd
	return cmd
}

func (r *Resolver) binaryCandidates() []string {
	var out []string
	if r.cfg.Binary != "" {
		out = append(out, r.cfg.Binary)
	}
	dir := r.cfg.BundleDir
	if dir == "" {
		if exe, err := os.Executable(); err == nil {
			dir = filepath.Join(filepath.Dir(exe), "engine")
		}
	}
	if dir != "" {
		out = append(out, filepath.Join(dir, BinaryName()))
	}
	return out
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

// probeInterpreter checks that the interpreter can import the engine's
// dependencies.
func probeInterpreter(ctx context.Context, interpreter string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interpreter, "-c", "import pandas, openpyxl")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pandas/openpyxl not importable: %s", lastLine(string(out), err))
	}
	return nil
}

func writeInlineScript() (string, error) {
	path := filepath.Join(os.TempDir(), "sheetflow-engine-"+uuid.NewString()+".py")
	if err := os.WriteFile(path, engineScript, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
