package rrc

// Instruction names understood by the controller side RAPID server.
const (
	InstructionMoveToFrame     = "r_RRC_MoveToFrame"
	InstructionMoveToJoints    = "r_RRC_MoveToJoints"
	InstructionSetTool         = "r_RRC_SetTool"
	InstructionSetWorkObject   = "r_RRC_SetWorkObject"
	InstructionSetAcceleration = "r_RRC_SetAcceleration"
	InstructionSetMaxSpeed     = "r_RRC_SetMaxSpeed"
	InstructionSetDigital      = "r_RRC_SetDigital"
	InstructionStartWatch      = "r_RRC_StartWatch"
	InstructionStopWatch       = "r_RRC_StopWatch"
	InstructionReadWatch       = "r_RRC_ReadWatch"
	InstructionWaitTime        = "r_RRC_WaitTime"
	InstructionNoop            = "r_RRC_Noop"
	InstructionPrintText       = "r_RRC_PrintText"
)

// Define allow list of instructions
var allowedInstructions = map[string]string{
	InstructionMoveToFrame:     "Linear or joint move to a frame in the active work object",
	InstructionMoveToJoints:    "Absolute joint move",
	InstructionSetTool:         "Activate a tool by name",
	InstructionSetWorkObject:   "Activate a work object by name",
	InstructionSetAcceleration: "Set acceleration and ramp (percent)",
	InstructionSetMaxSpeed:     "Set speed override (percent) and max TCP speed (mm/s)",
	InstructionSetDigital:      "Set a digital output",
	InstructionStartWatch:      "Reset and start the controller stopwatch",
	InstructionStopWatch:       "Stop the controller stopwatch",
	InstructionReadWatch:       "Read the stopwatch in seconds",
	InstructionWaitTime:        "Wait a number of seconds",
	InstructionNoop:            "Do nothing, used to ping the controller",
	InstructionPrintText:       "Print a line on the teach pendant",
}

// IsAllowed reports whether the instruction can be sent to the controller.
func IsAllowed(instruction string) bool {
	_, ok := allowedInstructions[instruction]
	return ok
}
