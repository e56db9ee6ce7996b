// Package driver defines the clipboard capability the capture watcher
// polls. It is deliberately a capability interface rather than a class
// hierarchy: platform-specific backends live outside this module, so
// only the contract and two reference implementations (Noop and Fake)
// live here.
package driver

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure modes a driver call can report.
type Kind int

const (
	Unavailable Kind = iota
	Denied
	Empty
	Transient
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Denied:
		return "denied"
	case Empty:
		return "empty"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is returned by every Driver method on failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("driver: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(op string, kind Kind) *Error { return &Error{Op: op, Kind: kind} }

// IsKind reports whether err (or something it wraps) is a driver *Error
// of the given kind.
func IsKind(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

// Image is a decoded RGBA image read from, or to be written to, the system
// clipboard. Pix follows image.RGBA's convention: 4 bytes per pixel, row
// stride Width*4.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Driver reads and writes the current system clipboard selection. The
// core never assumes push notifications; polling via these methods is the
// entire contract.
type Driver interface {
	GetText() (string, error)
	SetText(s string) error
	GetImage() (Image, error)
	SetImage(img Image) error
}

// Noop is the Driver used on platforms without a backend, or wherever the
// capture mode is "off". Every call fails with Unavailable.
type Noop struct{}

func (Noop) GetText() (string, error)    { return "", newErr("get_text", Unavailable) }
func (Noop) SetText(string) error        { return newErr("set_text", Unavailable) }
func (Noop) GetImage() (Image, error)    { return Image{}, newErr("get_image", Unavailable) }
func (Noop) SetImage(Image) error        { return newErr("set_image", Unavailable) }

var _ Driver = Noop{}
