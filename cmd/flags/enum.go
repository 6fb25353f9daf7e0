package flags

// via https://github.com/urfave/cli/issues/602

import (
	"fmt"
	"strings"
)

// EnumValue restricts a flag to a fixed set of string values. It implements
// cli.Generic so it can back a cli.GenericFlag.
type EnumValue struct {
	Enum     []string
	Value    string
	selected string
}

// Set records the chosen value, rejecting anything outside the enum.
func (e *EnumValue) Set(value string) error {
	for _, enum := range e.Enum {
		if enum == value {
			e.selected = value
			return nil
		}
	}
	return fmt.Errorf("allowed values are %s", strings.Join(e.Enum, ", "))
}

func (e *EnumValue) String() string {
	if e.selected == "" {
		return e.Value
	}
	return e.selected
}
