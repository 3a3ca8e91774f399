package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dcrodman/clientpatch/internal/core/bytes"
)

const (
	// DefaultPort is the game port compiled into the upstream client.
	DefaultPort = 43594
	// DefaultWorldPort is the world list port compiled into the replacement
	// launcher modules.
	DefaultWorldPort = 43600
	// DefaultVarpCount is the size of the client's varp arrays.
	DefaultVarpCount = 5000
	// UnspecifiedVarpCount leaves the varp arrays alone.
	UnspecifiedVarpCount = -1

	// The count is pushed with sipush, so it has to fit a signed short.
	maxVarpCount = 0x7FFF
)

// ErrInvalidParams is returned when patch parameters fail validation.
var ErrInvalidParams = errors.New("invalid patch parameters")

// Params configures a patch of the native client.
type Params struct {
	// Modulus is the hex encoded RSA modulus that replaces the client's own.
	Modulus string
	// Port replaces DefaultPort wherever it is compiled in.
	Port int
	// VarpCount resizes the varp arrays; UnspecifiedVarpCount or
	// DefaultVarpCount leave them unchanged.
	VarpCount int
}

// Validate checks that every parameter can be encoded into the client.
func (p Params) Validate() error {
	if p.Modulus == "" || !bytes.IsHex([]byte(p.Modulus)) {
		return fmt.Errorf("%w: modulus must be a non-empty hex string", ErrInvalidParams)
	}
	if err := validatePort(p.Port); err != nil {
		return err
	}
	if p.VarpCount != UnspecifiedVarpCount && (p.VarpCount < 1 || p.VarpCount > maxVarpCount) {
		return fmt.Errorf("%w: varp count %d outside 1..%d", ErrInvalidParams, p.VarpCount, maxVarpCount)
	}
	return nil
}

// ClientParams configures a patch of the launcher client.
type ClientParams struct {
	// WorldPort is the local port the world list is served from.
	WorldPort int
	// Name is the display name of the client. Empty keeps the upstream name
	// and data directory.
	Name string
}

func (p ClientParams) Validate() error {
	if err := validatePort(p.WorldPort); err != nil {
		return err
	}
	if strings.ContainsAny(p.Name, "\r\n") {
		return fmt.Errorf("%w: name must be a single line", ErrInvalidParams)
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 0xFFFF {
		return fmt.Errorf("%w: port %d outside 1..65535", ErrInvalidParams, port)
	}
	return nil
}
