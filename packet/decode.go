// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package packet

import "fmt"

// Parse scans values from the head of s into the specified targets in order.
// Each target must be one of *byte, *bool, *uint16, *uint32, *int16, *int32,
// *float32, or *string (decoded with [Scanner.String32]). Parse reports the
// first error encountered, identifying the target by its 1-based position.
func Parse(s *Scanner, into ...any) error {
	for i, v := range into {
		var err error
		switch t := v.(type) {
		case *byte:
			*t, err = s.Byte()
		case *bool:
			*t, err = s.Bool()
		case *uint16:
			*t, err = s.Uint16()
		case *uint32:
			*t, err = s.Uint32()
		case *int16:
			*t, err = s.Int16()
		case *int32:
			*t, err = s.Int32()
		case *float32:
			*t, err = s.Float32()
		case *string:
			*t, err = s.String32()
		default:
			panic(fmt.Sprintf("packet.Parse: unsupported target %T", v))
		}
		if err != nil {
			return fmt.Errorf("arg %d: invalid %T: %w", i+1, v, err)
		}
	}
	return nil
}
