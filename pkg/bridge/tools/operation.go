package tools

// Operation is one member of the closed set of engine operations. Anything
// outside this enumeration is rejected before any filesystem or process
// activity.
type Operation string

const (
	OpHealthCheck       Operation = "health_check"
	OpInitializeSession Operation = "initialize_session"
	OpUploadData        Operation = "upload_data"
	OpRunAnalysis       Operation = "run_analysis"
	OpRenderPlot        Operation = "render_plot"
	OpAssessBias        Operation = "assess_bias"
	OpGenerateReport    Operation = "generate_report"
	OpGetStatus         Operation = "get_status"
	OpExecuteCode       Operation = "execute_code"
)

var operations = map[Operation]string{
	OpHealthCheck:       "Check that the bridge and the R engine are available",
	OpInitializeSession: "Create an isolated meta-analysis session",
	OpUploadData:        "Upload study data (CSV, Excel or RevMan) into a session",
	OpRunAnalysis:       "Run the meta-analysis for a session",
	OpRenderPlot:        "Generate a forest plot from analysis results",
	OpAssessBias:        "Assess publication bias (funnel plot and Egger's test)",
	OpGenerateReport:    "Generate a full report of the session's analysis",
	OpGetStatus:         "Report session status, uploaded data and available results",
	OpExecuteCode:       "Execute a restricted R snippet inside the session sandbox",
}

// Lookup resolves an operation name against the allow-list.
func Lookup(name string) (Operation, bool) {
	op := Operation(name)
	_, ok := operations[op]
	return op, ok
}

// Describe returns the human-readable description of an operation.
func Describe(op Operation) string {
	return operations[op]
}

// All returns the allow-list in a stable order.
func All() []Operation {
	return []Operation{
		OpHealthCheck,
		OpInitializeSession,
		OpUploadData,
		OpRunAnalysis,
		OpRenderPlot,
		OpAssessBias,
		OpGenerateReport,
		OpGetStatus,
		OpExecuteCode,
	}
}
