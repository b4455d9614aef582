package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/splitpack/internal/validation"
)

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var loaders = map[string]api.Loader{
	".js":  api.LoaderJS,
	".mjs": api.LoaderJS,
	".cjs": api.LoaderJS,
	".jsx": api.LoaderJSX,
	".ts":  api.LoaderTS,
	".mts": api.LoaderTS,
	".cts": api.LoaderTS,
	".tsx": api.LoaderTSX,
}

// EsbuildTransform lowers TypeScript, JSX and modern syntax to CommonJS
// for the configured target.
type EsbuildTransform struct {
	target     api.Target
	targetName string
}

// NewEsbuildTransform creates the stage. An empty target means esnext.
func NewEsbuildTransform(target string) (*EsbuildTransform, error) {
	if target == "" {
		target = "esnext"
	}
	t, ok := targets[strings.ToLower(target)]
	if !ok {
		return nil, fmt.Errorf("unknown esbuild target %q", target)
	}

	return &EsbuildTransform{target: t, targetName: strings.ToLower(target)}, nil
}

func (e *EsbuildTransform) Name() string { return "esbuild" }

func (e *EsbuildTransform) Identity() string {
	return "esbuild:cjs:" + e.targetName
}

// Apply transforms one file. Dynamic import() is kept as-is so it can be
// rewritten into a chunk load; every other import becomes require().
func (e *EsbuildTransform) Apply(_ context.Context, in Input) (Output, error) {
	loader, ok := loaders[strings.ToLower(filepath.Ext(in.Path))]
	if !ok {
		loader = api.LoaderJS
	}

	result := api.Transform(string(in.Source), api.TransformOptions{
		Loader:     loader,
		Format:     api.FormatCommonJS,
		Target:     e.target,
		Supported:  map[string]bool{"dynamic-import": true},
		Sourcefile: in.Path,
		Sourcemap:  api.SourceMapExternal,
		LogLevel:   api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return Output{}, messagesError(result.Errors)
	}

	return Output{Code: result.Code, Map: result.Map}, nil
}

// FormatTransform converts ES module syntax to CommonJS and leaves every
// other construct as written. Excluded modules run through it so that
// prebuilt ESM packages link without being lowered.
type FormatTransform struct{}

func (FormatTransform) Name() string     { return "format" }
func (FormatTransform) Identity() string { return "esbuild:format:cjs" }

func (FormatTransform) Apply(_ context.Context, in Input) (Output, error) {
	loader, ok := loaders[strings.ToLower(filepath.Ext(in.Path))]
	if !ok {
		loader = api.LoaderJS
	}

	result := api.Transform(string(in.Source), api.TransformOptions{
		Loader:     loader,
		Format:     api.FormatCommonJS,
		Target:     api.ESNext,
		Sourcefile: in.Path,
		LogLevel:   api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return Output{}, messagesError(result.Errors)
	}

	return Output{Code: result.Code}, nil
}

func messagesError(msgs []api.Message) error {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}

	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// JSONTransform turns a JSON document into a CommonJS module.
type JSONTransform struct{}

func (JSONTransform) Name() string     { return "json" }
func (JSONTransform) Identity() string { return "json:v1" }

func (JSONTransform) Apply(_ context.Context, in Input) (Output, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(in.Source)); err != nil {
		return Output{}, fmt.Errorf("invalid JSON: %w", err)
	}

	code := make([]byte, 0, buf.Len()+20)
	code = append(code, "module.exports = "...)
	code = append(code, buf.Bytes()...)
	code = append(code, ";\n"...)

	return Output{Code: code}, nil
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

func (Passthrough) Name() string     { return "passthrough" }
func (Passthrough) Identity() string { return "passthrough" }

func (Passthrough) Apply(_ context.Context, in Input) (Output, error) {
	return Output{Code: in.Source, Map: in.Map}, nil
}

// CommandTransform pipes the source through an external program on stdin
// and takes its stdout as output. SPLITPACK_FILE carries the file path.
type CommandTransform struct {
	command string
	args    []string
}

// NewCommandTransform validates the command line and creates the stage.
func NewCommandTransform(command string, args []string) (*CommandTransform, error) {
	if err := validation.ValidateCommand(command, nil); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}

	return &CommandTransform{command: command, args: args}, nil
}

func (c *CommandTransform) Name() string { return filepath.Base(c.command) }

func (c *CommandTransform) Identity() string {
	return "command:" + c.command + "\x00" + strings.Join(c.args, "\x00")
}

// Apply runs the command under ctx; the chain bounds ctx with the stage
// timeout so a hung tool is killed.
func (c *CommandTransform) Apply(ctx context.Context, in Input) (Output, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Dir = filepath.Dir(in.Path)
	cmd.Env = append(cmd.Environ(), "SPLITPACK_FILE="+in.Path)
	cmd.Stdin = bytes.NewReader(in.Source)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Output{}, fmt.Errorf("%s timed out: %w", c.command, ctx.Err())
		}
		return Output{}, fmt.Errorf("%s failed: %w\nOutput: %s", c.command, err, stderr.String())
	}

	return Output{Code: stdout.Bytes()}, nil
}
