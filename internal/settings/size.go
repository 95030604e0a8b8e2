package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Size is a byte count that reads from JSON as a number (1048576) or a
// human-readable string ("4GiB", "512 MB").
type Size int64

// ParseSize parses a byte count in either form.
func ParseSize(s string) (Size, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Size(n), nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSize, s)
	}

	return Size(n), nil
}

func (s Size) String() string {
	return humanize.IBytes(uint64(max(s, 0)))
}

func (s *Size) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		n, err := ParseSize(str)
		if err != nil {
			return err
		}

		*s = n

		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSize, data)
	}

	*s = Size(n)

	return nil
}

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(s))
}

// sizeFlag adapts *Size to pflag.Value.
type sizeFlag struct{ s *Size }

func (f sizeFlag) String() string {
	if f.s == nil {
		return "0"
	}

	return strconv.FormatInt(int64(*f.s), 10)
}

func (f sizeFlag) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}

	*f.s = n

	return nil
}

func (sizeFlag) Type() string { return "size" }
