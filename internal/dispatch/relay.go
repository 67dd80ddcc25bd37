package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const gpioRoot = "/sys/class/gpio"

// SysfsRelay drives a relay board through the Linux sysfs GPIO
// interface. NewSysfsRelay exports the pin and sets it to output; the
// pin stays exported for the process lifetime.
type SysfsRelay struct {
	pin       int
	valuePath string
}

func NewSysfsRelay(pin int) (*SysfsRelay, error) {
	pinDir := filepath.Join(gpioRoot, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(gpioRoot, "export"), []byte(strconv.Itoa(pin)), 0o644); err != nil {
			return nil, fmt.Errorf("exporting gpio %d: %w", pin, err)
		}
		// The kernel needs a moment to create the pin directory.
		time.Sleep(100 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("setting gpio %d direction: %w", pin, err)
	}
	return &SysfsRelay{pin: pin, valuePath: filepath.Join(pinDir, "value")}, nil
}

func (r *SysfsRelay) On() error {
	if err := os.WriteFile(r.valuePath, []byte("1"), 0o644); err != nil {
		return fmt.Errorf("gpio %d on: %w", r.pin, err)
	}
	return nil
}

func (r *SysfsRelay) Off() error {
	if err := os.WriteFile(r.valuePath, []byte("0"), 0o644); err != nil {
		return fmt.Errorf("gpio %d off: %w", r.pin, err)
	}
	return nil
}

// NoopRelay satisfies Relay without hardware, for development boxes.
type NoopRelay struct{}

func (NoopRelay) On() error  { return nil }
func (NoopRelay) Off() error { return nil }
