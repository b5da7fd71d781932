// Command ndhc acquires and maintains a DHCPv4 lease on a single Ethernet
// interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"

	"github.com/crypticterminal/ndhc/internal/client"
	"github.com/crypticterminal/ndhc/internal/iface"
	"github.com/crypticterminal/ndhc/internal/ifchd"
	"github.com/crypticterminal/ndhc/internal/loop"
	"github.com/crypticterminal/ndhc/internal/privdrop"
	"github.com/crypticterminal/ndhc/internal/script"
)

// version is stamped at build time via -ldflags "-X main.version=".
var version = "dev"

// options holds the parsed command-line surface.
type options struct {
	clientID      string
	hostname      string
	ifaceName     string
	pidFile       string
	user          string
	chroot        string
	ifchdSocket   string
	scriptPath    string
	requestedAddr string

	foreground bool
	background bool
	now        bool
	quit       bool
	printVer   bool
}

func parseOptions(args []string) (o *options) {
	o = &options{}

	fs := flag.NewFlagSet("ndhc", flag.ExitOnError)
	fs.StringVar(&o.clientID, "clientid", "", "Client identifier sent as option 61.")
	fs.StringVar(&o.hostname, "hostname", "", "Host name sent as option 12.")
	fs.StringVar(&o.hostname, "h", "", "Shorthand for -hostname.")
	fs.BoolVar(&o.foreground, "foreground", false, "Stay attached to the controlling terminal.")
	fs.BoolVar(&o.background, "background", false, "Keep retrying after the first failed discover cycle (logged; the process does not detach).")
	fs.StringVar(&o.pidFile, "pidfile", "", "Path to write the process id to.")
	fs.StringVar(&o.ifaceName, "interface", "eth0", "Network interface to operate on.")
	fs.BoolVar(&o.now, "now", false, "Exit nonzero if no lease can be acquired.")
	fs.BoolVar(&o.quit, "quit", false, "Exit successfully once the first lease is bound.")
	fs.StringVar(&o.requestedAddr, "request", "", "Specific address to request in each DHCPDISCOVER.")
	fs.StringVar(&o.user, "user", "", "User to drop privileges to after startup.")
	fs.StringVar(&o.chroot, "chroot", "", "Directory to chroot into after startup.")
	fs.StringVar(&o.ifchdSocket, "ifchd-socket", ifchd.DefaultSocketPath, "ifchd control socket path.")
	fs.StringVar(&o.scriptPath, "script", "", "Hook script to run on lifecycle transitions.")
	fs.BoolVar(&o.printVer, "version", false, "Print the version and exit.")

	_ = fs.Parse(args)

	return o
}

func main() {
	opts := parseOptions(os.Args[1:])

	if opts.printVer {
		fmt.Println("ndhc " + version)

		return
	}

	logger := slogutil.New(&slogutil.Config{
		Format:       slogutil.FormatDefault,
		Level:        slogutil.LevelInfo,
		AddTimestamp: true,
	})

	os.Exit(run(opts, logger))
}

// run performs startup, exiting nonzero on any failure before the event
// loop starts, and then hands off to the event loop.
func run(opts *options, logger *slog.Logger) (code int) {
	ifi, err := net.InterfaceByName(opts.ifaceName)
	if err != nil {
		logger.Error("looking up interface", "interface", opts.ifaceName, "error", err)

		return loop.ExitAbort
	}

	if opts.pidFile != "" {
		if err = writePIDFile(opts.pidFile); err != nil {
			logger.Error("writing pid file", "error", err)

			return loop.ExitAbort
		}
		defer os.Remove(opts.pidFile)
	}

	cfg := &client.Config{
		Logger:         logger.With(slogutil.KeyPrefix, "client"),
		InterfaceName:  opts.ifaceName,
		ClientID:       opts.clientID,
		Hostname:       opts.hostname,
		RetryOnFailure: opts.background,
		AbortIfNoLease: opts.now,
		Foreground:     opts.foreground,
		QuitAfterLease: opts.quit,
	}
	if opts.requestedAddr != "" {
		cfg.RequestedAddr = net.ParseIP(opts.requestedAddr)
	}
	if err = cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)

		return loop.ExitAbort
	}

	ifaces := iface.NewManager(ifi)

	// No socket is open yet: the event loop opens (and reopens) every
	// raw/broadcast-capable socket after the drop, which relies on NET_RAW/NET_BROADCAST being granted
	// to the binary (e.g. via setcap), not on anything this process does
	// itself.
	if opts.user != "" || opts.chroot != "" {
		if err = privdrop.Drop(opts.chroot, "", opts.user); err != nil {
			logger.Error("dropping privileges", "error", err)

			return loop.ExitAbort
		}
	}

	machine := client.NewMachine(cfg, timeutil.SystemClock{}, ifi.HardwareAddr, ifi.Index)

	l := loop.New(
		machine,
		ifaces,
		ifchd.NewClient(opts.ifchdSocket),
		script.NewRunner(opts.scriptPath),
		cfg.Logger,
		ifi.HardwareAddr,
		opts.ifaceName,
	)
	// The process stays attached to its controlling terminal; backgrounding
	// is only logged.
	l.Background = func() (err error) {
		logger.Info("backgrounding after repeated lease failures")

		return nil
	}

	exitCode, err := l.Run(context.Background())
	if err != nil {
		logger.Error("event loop exited with error", "error", err)

		if exitCode == loop.ExitClean {
			return loop.ExitAbort
		}
	}

	return exitCode
}

func writePIDFile(path string) (err error) {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
