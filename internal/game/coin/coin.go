package coin

import (
	"errors"
	"fmt"
	"strings"
)

// Face is one side of the coin. The zero value means "not chosen yet".
type Face uint8

const (
	Heads Face = iota + 1
	Tails
)

var ErrInvalidFace = errors.New("coin: invalid face")

func (f Face) Valid() bool {
	return f == Heads || f == Tails
}

func (f Face) Opposite() Face {
	switch f {
	case Heads:
		return Tails
	case Tails:
		return Heads
	}
	return f
}

func (f Face) String() string {
	switch f {
	case Heads:
		return "heads"
	case Tails:
		return "tails"
	}
	return ""
}

// ParseFace accepts "heads"/"tails" (any case) and the short forms "h"/"t".
func ParseFace(s string) (Face, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heads", "h":
		return Heads, nil
	case "tails", "t":
		return Tails, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFace, s)
}

func (f Face) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Face) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*f = 0
		return nil
	}
	parsed, err := ParseFace(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Side is one of the two fixed player slots of a match.
// SideA is the NFT holder, SideB the challenger paying in.
type Side uint8

const (
	SideA Side = iota
	SideB
)

func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "A":
		*s = SideA
	case "B":
		*s = SideB
	default:
		return fmt.Errorf("coin: invalid side %q", string(b))
	}
	return nil
}
