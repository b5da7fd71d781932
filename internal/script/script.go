// Package script runs an external hook program at lifecycle transitions
// (BOUND, RENEW, DECONFIG, and so on), passing lease state as environment
// variables. It is the client's one collaborator for user-defined actions,
// kept separate from the state machine and the ifchd client.
package script

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/crypticterminal/ndhc/internal/ifchd"
)

// Event names the lifecycle transition a hook is invoked for, matching the
// udhcpc-style script-argument convention.
type Event string

// Recognized hook events.
const (
	EventBound     Event = "bound"
	EventRenew     Event = "renew"
	EventDeconfig  Event = "deconfig"
	EventLeaseFail Event = "leasefail"
	EventNak       Event = "nak"
)

// Runner invokes a single external program once per lifecycle transition,
// passing structured lease data as environment variables.
type Runner struct {
	// Path is the script or binary to execute. A zero-value Runner (empty
	// Path) is a no-op: Run returns nil without invoking anything.
	Path string
}

// NewRunner returns a Runner for the script at path.
func NewRunner(path string) (r *Runner) {
	return &Runner{Path: path}
}

// Run invokes the hook for ev with rec's fields exposed as environment
// variables named interface, ip, subnet, router (the first router only),
// hostname and domain, in lower case; unset fields are omitted and no other
// variables are passed. It blocks until the hook exits or ctx is done.
func (r *Runner) Run(ctx context.Context, ev Event, rec ifchd.Record) (err error) {
	if r == nil || r.Path == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, r.Path, string(ev))
	cmd.Env = envFromRecord(rec)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err = cmd.Run(); err != nil {
		return fmt.Errorf("running hook %q for %s: %w: %s", r.Path, ev, err, stderr.String())
	}

	return nil
}

// envFromRecord renders rec as a minimal NAME=VALUE environment, omitting
// fields rec leaves unset.
func envFromRecord(rec ifchd.Record) (env []string) {
	add := func(k, v string) {
		if v != "" {
			env = append(env, k+"="+v)
		}
	}

	add("interface", rec.InterfaceName)
	if rec.Addr.IsValid() {
		add("ip", rec.Addr.String())
	}
	if rec.Subnet.IsValid() {
		add("subnet", rec.Subnet.String())
	}
	if len(rec.Routers) > 0 {
		add("router", rec.Routers[0].String())
	}
	add("hostname", rec.Hostname)
	add("domain", rec.DomainName)

	return env
}
