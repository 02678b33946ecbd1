package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// PathPlaceholder in a playback command is replaced by the clip path. A
// command without it gets the path appended as the last argument.
const PathPlaceholder = "{path}"

// Player plays a rendered clip. Play blocks until playback has finished.
type Player interface {
	Play(ctx context.Context, path string) error
}

// CommandPlayer plays clips with an external program such as
// "ffplay -nodisp -autoexit -loglevel quiet".
type CommandPlayer struct {
	argv []string
}

var _ Player = (*CommandPlayer)(nil)

// NewCommandPlayer parses a whitespace-separated command line.
func NewCommandPlayer(command string) (*CommandPlayer, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("speech: playback command is empty")
	}
	return &CommandPlayer{argv: argv}, nil
}

// Args returns the argument vector used to play path.
func (p *CommandPlayer) Args(path string) []string {
	args := make([]string, 0, len(p.argv)+1)
	replaced := false
	for _, a := range p.argv {
		if strings.Contains(a, PathPlaceholder) {
			a = strings.ReplaceAll(a, PathPlaceholder, path)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}

// Play runs the command and waits for it to exit.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	args := p.Args(path)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("speech: play %q: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}
