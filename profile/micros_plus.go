package profile

import "time"

func toggleStates() *stateTable {
	return newStateTable(stateCode{On, 255}, stateCode{Off, 0}, stateCode{Toggle, 103})
}

func microsPlusDef() profileDef {
	return profileDef{
		name:        CentralUnitMicrosPlus,
		centralUnit: 1,
		numberWidth: 2,
		logOn:       1,
		logOff:      0,
		keepAlive: KeepAlive{
			Interval: 10 * time.Minute,
			Command:  CommandKeepAlive,
		},
		commands: map[Command]CommandSpec{
			CommandSet:         {Code: 7, Params: []Param{ParamCentralUnit, ParamFunction, ParamNumber, ParamState}},
			CommandGet:         {Code: 6, Params: []Param{ParamCentralUnit, ParamFunction, ParamNumber}},
			CommandGroupGet:    {Code: 9, Params: []Param{ParamCentralUnit, ParamFunction, ParamNumbers}},
			CommandLog:         {Code: 3, Params: []Param{ParamFunction, ParamLogState}},
			CommandEvent:       {Code: 16, Params: []Param{ParamCentralUnit, ParamFunction, ParamNumber, ParamErrorState, ParamState}},
			CommandKeepAlive:   {Code: 11},
			CommandAcknowledge: {Code: 10},
		},
		functions: map[Function]byte{
			FunctionRelay:       1,
			FunctionDimmer:      2,
			FunctionMotor:       6,
			FunctionLocalMood:   8,
			FunctionTimedMood:   9,
			FunctionGeneralMood: 10,
			FunctionFlag:        15,
			FunctionSensor:      20,
			FunctionCondition:   60,
		},
		states: map[Function]*stateTable{
			FunctionRelay:       toggleStates(),
			FunctionDimmer:      toggleStates().withLevels(0, 100),
			FunctionMotor:       newStateTable(stateCode{Up, 1}, stateCode{Down, 2}, stateCode{Stop, 3}),
			FunctionLocalMood:   toggleStates(),
			FunctionTimedMood:   toggleStates(),
			FunctionGeneralMood: toggleStates(),
			FunctionFlag:        toggleStates(),
			FunctionSensor:      sensorStates(),
			FunctionCondition:   toggleStates(),
		},
	}
}
