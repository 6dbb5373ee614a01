package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// I64BytesVar defines an `int64` flag that accepts input as human-readable sizes (e.g., "1GiB",
// "128KB") and converts them into bytes. The flag is associated with a `*int64` variable, which is
// set to the converted byte value.
//
// The flag's string value is the size in bytes, so the flag can also be bound to viper and read
// back with viper.GetInt64().
//
// Panics if the default value cannot be parsed into an `int64` byte size.
//
// Example usage:
//
//	I64BytesVar(cmd.Flags(), &backendCfg.MinSize, "min-size", "", "0", "Only list files of at least this size")
func I64BytesVar(flags *pflag.FlagSet, p *int64, name string, shorthand string, defaultValue string, usage string) {
	bf := newI64BytesFlag(p, defaultValue)
	flags.VarP(bf, name, shorthand, usage)
}

// i64BytesFlag implements the `pflag.Value` interface for flags that accept human-readable byte
// sizes and converts them to bytes (as `int64` values). Intended to be used with I64BytesVar.
type i64BytesFlag struct {
	p *int64
}

func newI64BytesFlag(p *int64, defaultValue string) *i64BytesFlag {
	bf := &i64BytesFlag{p: p}
	err := bf.Set(defaultValue)
	if err != nil {
		panic(fmt.Sprintf("error setting default value (this is a bug): %s", err.Error()))
	}
	return bf
}

func (f *i64BytesFlag) String() string {
	return strconv.FormatInt(*f.p, 10)
}

func (f *i64BytesFlag) Type() string {
	return "<size><unit>"
}

func (f *i64BytesFlag) Set(value string) error {
	sizeInBytes, err := ParseIntFromStr(value)
	if err != nil {
		return err
	}

	if sizeInBytes > math.MaxInt64 {
		return fmt.Errorf("parsed size (%d bytes) is out of bounds (must be between %d bytes and %d bytes)", sizeInBytes, 0, math.MaxInt64)
	}

	*f.p = int64(sizeInBytes)
	return nil
}

// ValidatedStringFlag defines a flag that only accepts one of the allowed strings. Intended to be
// used with typed constants that satisfy the stringer interface. Allowed strings should by all
// lowercase and the user provided string will be converted to lowercase before checking it is one
// of the allowed strings.
func ValidatedStringFlag(allowed []fmt.Stringer, defaultValue fmt.Stringer) *validatedStringFlag {
	return &validatedStringFlag{
		value:   defaultValue,
		allowed: allowed,
	}
}

type validatedStringFlag struct {
	value   fmt.Stringer
	allowed []fmt.Stringer
}

func (f *validatedStringFlag) String() string {
	return f.value.String()
}

func (f *validatedStringFlag) Set(val string) error {
	val = strings.ToLower(val)
	for _, allowed := range f.allowed {
		if val == allowed.String() {
			f.value = allowed
			return nil
		}
	}
	return fmt.Errorf("invalid value: %q (allowed: %v)", val, f.allowed)
}

func (v *validatedStringFlag) Type() string {
	return "string"
}
