// Package config loads a sender or receiver deployment's tuning knobs from
// a single "lancaster.hujson" file: relaxed JSON (comments, trailing
// commas) for a hand-edited ops file, strictly validated after decode.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/tailscale/hujson"
)

// ErrInvalid wraps every validation failure Load reports.
var ErrInvalid = errors.New("config: invalid")

// Storage describes the memory-mapped segment a sender publishes from or a
// receiver mirrors into.
type Storage struct {
	Path          string `json:"path"`
	BaseID        int64  `json:"base_id"`
	MaxID         int64  `json:"max_id"`
	ValueSize     uint32 `json:"value_size"`
	PropertySize  uint32 `json:"property_size,omitempty"`
	QueueCapacity uint64 `json:"queue_capacity"`
	Description   string `json:"description,omitempty"`
	Persist       bool   `json:"persist,omitempty"`
}

func (s Storage) validate() error {
	if s.Path == "" {
		return fmt.Errorf("%w: storage.path is required", ErrInvalid)
	}
	if s.MaxID <= s.BaseID {
		return fmt.Errorf("%w: storage.max_id must be > storage.base_id", ErrInvalid)
	}
	if s.ValueSize == 0 {
		return fmt.Errorf("%w: storage.value_size must be > 0", ErrInvalid)
	}
	return nil
}

// Sender configures a sender deployment: the storage it publishes and its
// listen/multicast addresses and protocol tuning.
type Sender struct {
	Storage Storage `json:"storage"`

	ListenAddr string `json:"listen_addr"`
	McastGroup string `json:"mcast_group"`
	McastIface string `json:"mcast_iface"`
	McastTTL   int    `json:"mcast_ttl,omitempty"`

	MaxPktAgeUsec int64 `json:"max_pkt_age_usec,omitempty"`
	HeartbeatUsec int64 `json:"heartbeat_usec,omitempty"`

	OrphanTimeoutUsec int64 `json:"orphan_timeout_usec,omitempty"`
	IgnoreOrphaned    bool  `json:"ignore_orphaned,omitempty"`
	IgnoreRecreated   bool  `json:"ignore_recreated,omitempty"`
	IgnoreOverrun     bool  `json:"ignore_overrun,omitempty"`

	Backlog int `json:"backlog,omitempty"`
}

// Validate checks Sender for internal consistency; it does not touch the
// filesystem, but host names in the addresses are resolved.
func (c Sender) Validate() error {
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalid)
	}
	if _, err := net.ResolveTCPAddr("tcp4", c.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen_addr: %v", ErrInvalid, err)
	}
	if c.McastGroup == "" {
		return fmt.Errorf("%w: mcast_group is required", ErrInvalid)
	}
	addr, err := net.ResolveUDPAddr("udp4", c.McastGroup)
	if err != nil {
		return fmt.Errorf("%w: mcast_group: %v", ErrInvalid, err)
	}
	if !addr.IP.IsMulticast() {
		return fmt.Errorf("%w: mcast_group %s is not a multicast address", ErrInvalid, addr.IP)
	}
	if c.McastIface == "" {
		return fmt.Errorf("%w: mcast_iface is required", ErrInvalid)
	}
	return nil
}

// Receiver configures a receiver deployment: the sender to dial and the
// local storage path to mirror into.
type Receiver struct {
	SenderAddr  string `json:"sender_addr"`
	StoragePath string `json:"storage_path"`
	Persist     bool   `json:"persist,omitempty"`

	TouchPeriodUsec   int64 `json:"touch_period_usec,omitempty"`
	GreetingTimeoutMs int64 `json:"greeting_timeout_ms,omitempty"`
}

// Validate checks Receiver for internal consistency.
func (c Receiver) Validate() error {
	if c.SenderAddr == "" {
		return fmt.Errorf("%w: sender_addr is required", ErrInvalid)
	}
	if _, err := net.ResolveTCPAddr("tcp4", c.SenderAddr); err != nil {
		return fmt.Errorf("%w: sender_addr: %v", ErrInvalid, err)
	}
	if c.StoragePath == "" {
		return fmt.Errorf("%w: storage_path is required", ErrInvalid)
	}
	return nil
}

// LoadSender reads, decodes and validates a sender deployment file at path.
func LoadSender(path string) (Sender, error) {
	var c Sender
	if err := load(path, &c); err != nil {
		return Sender{}, err
	}
	if err := c.Validate(); err != nil {
		return Sender{}, err
	}
	return c, nil
}

// LoadReceiver reads, decodes and validates a receiver deployment file at
// path.
func LoadReceiver(path string) (Receiver, error) {
	var c Receiver
	if err := load(path, &c); err != nil {
		return Receiver{}, err
	}
	if err := c.Validate(); err != nil {
		return Receiver{}, err
	}
	return c, nil
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("%w: %s: not valid JSONC: %v", ErrInvalid, path, err)
	}

	if err := json.Unmarshal(standardized, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}

	return nil
}
