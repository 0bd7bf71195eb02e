package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/silky/retcon/internal/document"
	"github.com/silky/retcon/internal/store"
)

// Exit status a command uses to report that the foreign key is gone, as
// opposed to a general failure.
const exitKeyGone = 2

// Commands holds the four command templates of one configured source.
// Templates are split on whitespace; %fk expands to the foreign key and
// %ik to the internal key it resolves to (via the read-only store
// token).
type Commands struct {
	Create string
	Read   string
	Update string
	Delete string
}

// Command runs an external program per operation. Documents travel as
// JSON on stdin/stdout:
//
//   - create: document on stdin, assigned foreign key on stdout
//   - read:   document on stdout
//   - update: document on stdin; a non-empty stdout line replaces the
//     foreign key
//   - delete: no document traffic
//
// A non-zero exit is a data-source error; exit status 2 specifically
// means the key is gone.
type Command struct {
	entity string
	source string
	cmds   Commands
	st     store.Reader
}

var _ DataSource = (*Command)(nil)

// NewCommand builds the subprocess adaptor for one (entity, source)
// pair. The store token is read-only; it only serves %ik expansion.
func NewCommand(entity, source string, cmds Commands, st store.Reader) *Command {
	return &Command{entity: entity, source: source, cmds: cmds, st: st}
}

// Create implements DataSource.
func (c *Command) Create(ctx context.Context, doc *document.Document) (string, error) {
	stdout, err := c.run(ctx, "create", c.cmds.Create, "", doc)
	if err != nil {
		return "", err
	}
	fk := strings.TrimSpace(string(stdout))
	if fk == "" {
		return "", &Error{Source: c.source, Op: "create", Err: errors.New("command returned no foreign key")}
	}
	return fk, nil
}

// Read implements DataSource.
func (c *Command) Read(ctx context.Context, fk string) (*document.Document, error) {
	stdout, err := c.run(ctx, "read", c.cmds.Read, fk, nil)
	if err != nil {
		return nil, err
	}
	doc, err := document.FromJSON(stdout)
	if err != nil {
		return nil, &Error{Source: c.source, Op: "read", Err: err}
	}
	return doc, nil
}

// Update implements DataSource.
func (c *Command) Update(ctx context.Context, fk string, doc *document.Document) (string, error) {
	stdout, err := c.run(ctx, "update", c.cmds.Update, fk, doc)
	if err != nil {
		return "", err
	}
	if newFK := strings.TrimSpace(string(stdout)); newFK != "" {
		return newFK, nil
	}
	return fk, nil
}

// Delete implements DataSource.
func (c *Command) Delete(ctx context.Context, fk string) error {
	_, err := c.run(ctx, "delete", c.cmds.Delete, fk, nil)
	return err
}

// run expands a template, feeds the document on stdin where given, and
// returns stdout.
func (c *Command) run(ctx context.Context, op, template, fk string, doc *document.Document) ([]byte, error) {
	if template == "" {
		return nil, &Error{Source: c.source, Op: op, Err: fmt.Errorf("no %s command configured", op)}
	}

	argv, err := c.expand(ctx, template, fk)
	if err != nil {
		return nil, &Error{Source: c.source, Op: op, Err: err}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if doc != nil {
		// Lossy nodes (scalar under children) are recorded by the
		// kernel in the round's trace; here the object form just wins.
		data, err := document.ToJSON(doc)
		if err != nil {
			return nil, &Error{Source: c.source, Op: op, Err: err}
		}
		cmd.Stdin = bytes.NewReader(data)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Source: c.source, Op: op, Err: ctx.Err()}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitKeyGone {
			return nil, &Error{Source: c.source, Op: op, Err: ErrKeyGone}
		}
		return nil, &Error{
			Source: c.source,
			Op:     op,
			Err:    fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String())),
		}
	}

	return stdout.Bytes(), nil
}

// expand splits the template on whitespace and substitutes %fk and %ik
// placeholders.
func (c *Command) expand(ctx context.Context, template, fk string) ([]string, error) {
	argv := strings.Fields(template)
	if len(argv) == 0 {
		return nil, errors.New("empty command template")
	}

	needIK := false
	for _, arg := range argv {
		if strings.Contains(arg, "%ik") {
			needIK = true
		}
	}

	ik := ""
	if needIK {
		resolved, ok, err := c.st.ResolveInternalKey(ctx, c.entity, c.source, fk)
		if err != nil {
			return nil, fmt.Errorf("resolve %%ik: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("resolve %%ik: foreign key %q not recorded", fk)
		}
		ik = strconv.FormatInt(int64(resolved), 10)
	}

	out := make([]string, len(argv))
	for i, arg := range argv {
		arg = strings.ReplaceAll(arg, "%fk", fk)
		arg = strings.ReplaceAll(arg, "%ik", ik)
		out[i] = arg
	}
	return out, nil
}
