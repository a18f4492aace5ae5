package profile

import "time"

func switchStates() *stateTable {
	return newStateTable(stateCode{On, 255}, stateCode{Off, 0})
}

func sensorStates() *stateTable {
	return newStateTable().withLevels(0, 255)
}

func microsDef() profileDef {
	return profileDef{
		name:        CentralUnitMicros,
		numberWidth: 1,
		logOn:       255,
		logOff:      0,
		keepAlive: KeepAlive{
			Interval: 30 * time.Minute,
			Command:  CommandLog,
			Function: FunctionMotor,
		},
		commands: map[Command]CommandSpec{
			CommandSet:   {Code: 1, Params: []Param{ParamFunction, ParamNumber, ParamState}},
			CommandGet:   {Code: 2, Params: []Param{ParamFunction, ParamNumber}},
			CommandLog:   {Code: 3, Params: []Param{ParamFunction, ParamLogState}},
			CommandEvent: {Code: 8, Params: []Param{ParamFunction, ParamNumber, ParamState}},
		},
		functions: map[Function]byte{
			FunctionRelay:       1,
			FunctionDimmer:      2,
			FunctionMotor:       55,
			FunctionLocalMood:   8,
			FunctionTimedMood:   9,
			FunctionGeneralMood: 10,
			FunctionFlag:        15,
			FunctionSensor:      20,
			FunctionCondition:   60,
		},
		states: map[Function]*stateTable{
			FunctionRelay:       switchStates(),
			FunctionDimmer:      switchStates().withLevels(0, 255),
			FunctionMotor:       newStateTable(stateCode{Up, 255}, stateCode{Down, 0}),
			FunctionLocalMood:   switchStates(),
			FunctionTimedMood:   switchStates(),
			FunctionGeneralMood: switchStates(),
			FunctionFlag:        switchStates(),
			FunctionSensor:      sensorStates(),
			FunctionCondition:   switchStates(),
		},
	}
}
