package client

import (
	"log/slog"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"

	"github.com/crypticterminal/ndhc/internal/dhcpwire"
)

// Config is the static, user-supplied configuration for one client run.
type Config struct {
	// Logger receives structured client-lifecycle and state-transition
	// events. It must not be nil.
	Logger *slog.Logger

	// InterfaceName is the network interface the client operates on.
	InterfaceName string

	// ClientID is the opaque value sent as option 61 (client-id), if set.
	ClientID string

	// Hostname is the value sent as option 12 (host-name), if set.
	Hostname string

	// VendorClassID is the value sent as option 60. Defaults to
	// dhcpwire.VendorClassID when empty.
	VendorClassID string

	// RetryOnFailure controls what happens when a SELECTING cycle fails
	// before any lease has been held: when true, the end of the first failed
	// cycle emits a single ActionBackground and the client keeps retrying;
	// when false and AbortIfNoLease is false, it keeps retrying
	// indefinitely without emitting it.
	RetryOnFailure bool

	// AbortIfNoLease, when true, makes the client exit nonzero after three
	// failed SELECTING cycles instead of retrying.
	AbortIfNoLease bool

	// Foreground records the -foreground flag. The client never detaches
	// from its controlling terminal, so the state machine does not consult
	// it.
	Foreground bool

	// QuitAfterLease, when true, makes the client exit successfully as soon
	// as a lease is bound, without maintaining it further.
	QuitAfterLease bool

	// RequestedAddr is a specific address to ask for, if set. It is sent as
	// the requested-ip option of every DHCPDISCOVER; the DHCPREQUEST that
	// answers an offer names the offered address instead.
	RequestedAddr net.IP
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the validate.Interface interface for *Config.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("InterfaceName", c.InterfaceName),
		validate.NotNil("Logger", c.Logger),
	}

	return errors.Join(errs...)
}

// vendorClassID returns c.VendorClassID, or dhcpwire.VendorClassID if unset.
func (c *Config) vendorClassID() (s string) {
	if c.VendorClassID != "" {
		return c.VendorClassID
	}

	return dhcpwire.VendorClassID
}

// Lease bookkeeping bounds.
const (
	// DefaultLease is assumed when a server's ACK carries no
	// DHCP_LEASE_TIME option.
	DefaultLease = 3600 * time.Second

	// MinLease is the smallest lease duration the client will honor; server
	// values below this are rounded up.
	MinLease = 60 * time.Second
)

// discoverBackoff is the jittered retransmit schedule shared by DISCOVER and
// REQUEST retransmits.
var discoverBackoff = []time.Duration{
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
	64 * time.Second,
}

// maxDiscoverAttempts and maxRequestAttempts bound retransmits of DISCOVER
// and REQUEST respectively within one cycle.
const (
	maxDiscoverAttempts = 5
	maxRequestAttempts  = 5
)

// nakCooldown is the fixed delay before re-entering SELECTING after a NAK.
const nakCooldown = 3 * time.Second

// retryFloor is the smallest halved retry interval worth transmitting for
// while REBINDING; below it the client just waits out the lease.
const retryFloor = 30 * time.Second
