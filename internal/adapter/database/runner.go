package database

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/semmidev/dbguardian/internal/domain"
)

// run executes a dump tool and turns a non-zero exit into a *domain.DumpError
// carrying the tool's combined output.
func run(ctx context.Context, tool, bin string, args []string, env ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), env...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &domain.DumpError{
			Tool:   tool,
			Output: strings.TrimSpace(string(output)),
			Err:    err,
		}
	}
	return nil
}
