package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"document-generation-service/internal/domain/ports/adapter"
)

var _ adapter.Converter = (*ExecConverter)(nil)

// ExecConverter invokes a LibreOffice-style headless converter binary:
//
//	soffice --headless --convert-to pdf --outdir <workdir> <input>
//
// The produced file keeps the input's base name with the target extension.
type ExecConverter struct {
	binary    string
	extraArgs []string
}

func NewExecConverter(binary string, extraArgs []string) *ExecConverter {
	if binary == "" {
		binary = "soffice"
	}
	return &ExecConverter{binary: binary, extraArgs: extraArgs}
}

func (c *ExecConverter) Convert(ctx context.Context, req adapter.ConvertRequest) (string, error) {
	args := append([]string{}, c.extraArgs...)
	args = append(args,
		"--headless",
		"--convert-to", req.TargetFormat,
		"--outdir", req.WorkDir,
		req.InputPath,
	)

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	// Isolate the converter's own profile per scratch dir so concurrent runs
	// do not fight over a shared user profile lock.
	cmd.Env = append(os.Environ(), "HOME="+req.WorkDir)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", &ConvertError{
				ExitCode: exitErr.ExitCode(),
				Output:   tail(output.String(), 512),
			}
		}
		return "", fmt.Errorf("start converter: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(req.InputPath), filepath.Ext(req.InputPath))
	outPath := filepath.Join(req.WorkDir, base+"."+req.TargetFormat)
	if _, err := os.Stat(outPath); err != nil {
		// Zero exit but no output file still counts as a converter failure.
		return "", &ConvertError{ExitCode: 0, Output: tail(output.String(), 512)}
	}
	return outPath, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
