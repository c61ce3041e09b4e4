package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Runtime executes a scan somewhere: in this process or in a child.
type Runtime interface {
	Scan(ctx context.Context, spec core.ScanSpec) (*ScanResult, error)
}

// GateFailedError is returned when a scan reports failed or errored checks.
type GateFailedError struct {
	Scan    string
	Failed  int
	Errored int
}

func (e *GateFailedError) Error() string {
	return fmt.Sprintf("quality gate %s failed: %d failed, %d errored", e.Scan, e.Failed, e.Errored)
}

// Gate turns a scan result into the gate's verdict.
func Gate(res *ScanResult) error {
	if res.HasFailures() {
		return &GateFailedError{Scan: res.ScanName, Failed: res.Counts.Fail, Errored: res.Counts.Error}
	}
	return nil
}

// baseEnv lists the variables a child scan inherits without being asked.
var baseEnv = []string{"PATH", "HOME", "TMPDIR", "TZ"}

// envPrefix variables are always passed so the child sees the same
// configuration and connections.
const envPrefix = "LEAPFLOW_"

// Subprocess runs "<executable> <args> scan ... --json" in a child process
// with a clean environment and decodes the ScanResult it prints.
type Subprocess struct {
	Executable string
	Args       []string
	// Env entries are either NAME (copied from this process) or NAME=value.
	Env []string
	// Dir is the child's working directory and --project-dir.
	Dir string
	// ConfigFile is passed as --config when set.
	ConfigFile string
	Logger     *slog.Logger

	environ func() []string
}

// Command returns the argument list for spec, without the executable.
func (p *Subprocess) Command(spec core.ScanSpec) []string {
	args := append([]string{}, p.Args...)
	args = append(args, "scan",
		"--scan-name", spec.ScanName,
		"--checks-subpath", spec.ChecksSubpath,
	)
	if spec.ChecksRoot != "" {
		args = append(args, "--checks-root", spec.ChecksRoot)
	}
	if spec.Configuration != "" {
		args = append(args, "--configuration", spec.Configuration)
	}
	if spec.DataSource != "" {
		args = append(args, "--data-source", spec.DataSource)
	}
	if p.Dir != "" {
		args = append(args, "--project-dir", p.Dir)
	}
	if p.ConfigFile != "" {
		args = append(args, "--config", p.ConfigFile)
	}
	return append(args, "--json")
}

// Environment returns the child's environment, sorted.
func (p *Subprocess) Environment() []string {
	environ := os.Environ
	if p.environ != nil {
		environ = p.environ
	}
	parent := make(map[string]string)
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			parent[k] = v
		}
	}

	env := make(map[string]string)
	for _, k := range baseEnv {
		if v, ok := parent[k]; ok {
			env[k] = v
		}
	}
	for k, v := range parent {
		if strings.HasPrefix(k, envPrefix) {
			env[k] = v
		}
	}
	for _, e := range p.Env {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
			continue
		}
		if v, ok := parent[e]; ok {
			env[e] = v
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Scan runs the child and decodes its result. A non-zero exit or an
// undecodable result is an error.
func (p *Subprocess) Scan(ctx context.Context, spec core.ScanSpec) (*ScanResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	exe := p.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate scan executable: %w", err)
		}
		exe = self
	}

	args := p.Command(spec)
	//nolint:gosec // executable and arguments come from configuration
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = p.Dir
	cmd.Env = p.Environment()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("starting scan subprocess", "scan_name", spec.ScanName, "executable", exe, "args", args)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("scan %s: subprocess exited with code %d: %s",
				spec.ScanName, exitErr.ExitCode(), lastLine(stderr.String()))
		}
		return nil, fmt.Errorf("scan %s: failed to run subprocess: %w", spec.ScanName, err)
	}

	var res ScanResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, fmt.Errorf("scan %s: invalid subprocess result: %w", spec.ScanName, err)
	}
	if res.ScanName == "" {
		res.ScanName = spec.ScanName
	}
	return &res, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "no output"
	}
	return s
}

// NewRuntime selects the runtime named by cfg. Scanner serves the
// in-process runtime; dir is the child's project directory.
func NewRuntime(cfg core.RuntimeConfig, scanner *Scanner, dir string, logger *slog.Logger) (Runtime, error) {
	switch cfg.Type {
	case "", core.RuntimeInProcess:
		if scanner == nil {
			return nil, errors.New("in-process runtime needs a scanner")
		}
		return scanner, nil
	case core.RuntimeSubprocess:
		p := &Subprocess{Env: cfg.Env, Dir: dir, Logger: logger}
		if fields := strings.Fields(cfg.Executable); len(fields) > 0 {
			p.Executable, p.Args = fields[0], fields[1:]
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown scan runtime %q (expected %s or %s)", cfg.Type, core.RuntimeInProcess, core.RuntimeSubprocess)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
