package profile

import (
	"fmt"
	"strings"
)

// Function is a logical device category.
type Function uint8

const (
	FunctionRelay Function = iota + 1
	FunctionDimmer
	FunctionMotor
	FunctionLocalMood
	FunctionTimedMood
	FunctionGeneralMood
	FunctionFlag
	FunctionSensor
	FunctionCondition
)

var functionNames = map[Function]string{
	FunctionRelay:       "relay",
	FunctionDimmer:      "dimmer",
	FunctionMotor:       "motor",
	FunctionLocalMood:   "locmood",
	FunctionTimedMood:   "timedmood",
	FunctionGeneralMood: "genmood",
	FunctionFlag:        "flag",
	FunctionSensor:      "sensor",
	FunctionCondition:   "cond",
}

// Functions returns every known function in declaration order.
func Functions() []Function {
	return []Function{
		FunctionRelay, FunctionDimmer, FunctionMotor,
		FunctionLocalMood, FunctionTimedMood, FunctionGeneralMood,
		FunctionFlag, FunctionSensor, FunctionCondition,
	}
}

func (f Function) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}

	return fmt.Sprintf("function(%d)", uint8(f))
}

// ParseFunction parses a function name as produced by Function.String.
// A few long forms ("local_mood", "general_mood", "condition", ...) are accepted too.
func ParseFunction(name string) (Function, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("_", "", "-", "", " ", "").Replace(n)

	switch n {
	case "localmood":
		n = "locmood"
	case "generalmood":
		n = "genmood"
	case "condition":
		n = "cond"
	case "sensorvalue", "getsensval":
		n = "sensor"
	}

	for f, s := range functionNames {
		if s == n {
			return f, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown function %q", ErrEncode, name)
}
