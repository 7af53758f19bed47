package server

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/tools"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(string(tools.OpHealthCheck),
		mcp.WithDescription(tools.Describe(tools.OpHealthCheck)),
	), s.handle(tools.OpHealthCheck, false))

	s.mcp.AddTool(mcp.NewTool(string(tools.OpInitializeSession),
		mcp.WithDescription(tools.Describe(tools.OpInitializeSession)),
		mcp.WithString("name",
			mcp.Description("Human-readable name for the analysis")),
		mcp.WithString("session_id",
			mcp.Description("Reuse a specific session id instead of generating one")),
		mcp.WithString("study_type",
			mcp.Description("Study design: clinical_trial, observational or diagnostic")),
		mcp.WithString("effect_measure",
			mcp.Description("Effect measure: OR, RR, MD, SMD or HR")),
		mcp.WithString("analysis_model",
			mcp.Description("Pooling model: fixed, random or auto")),
	), s.handle(tools.OpInitializeSession, false))

	s.mcp.AddTool(mcp.NewTool(string(tools.OpUploadData),
		mcp.WithDescription(tools.Describe(tools.OpUploadData)),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Target session id")),
		mcp.WithString("data", mcp.Required(),
			mcp.Description("Raw study data, either CSV text or base64 for binary formats")),
		mcp.WithString("format",
			mcp.Description("Data format: csv, excel or revman")),
		mcp.WithBoolean("validate",
			mcp.Description("Run the engine's data validation after the upload")),
	), s.handle(tools.OpUploadData, true))

	s.mcp.AddTool(mcp.NewTool(string(tools.OpRunAnalysis),
		mcp.WithDescription(tools.Describe(tools.OpRunAnalysis)),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Target session id")),
		mcp.WithString("method",
			mcp.Description("Override the session's pooling model: fixed or random")),
		mcp.WithNumber("confidence_level",
			mcp.Description("Confidence level for intervals, defaults to 0.95")),
		mcp.WithBoolean("heterogeneity_test",
			mcp.Description("Include heterogeneity statistics in the output")),
	), s.handle(tools.OpRunAnalysis, true))

	s.mcp.AddTool(mcp.NewTool(string(tools.OpRenderPlot),
		mcp.WithDescription(tools.Describe(tools.OpRenderPlot)),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Target session id")),
		mcp.WithString("plot_type",
			mcp.Description("Plot type, defaults to forest")),
		mcp.WithNumber("width",
			mcp.Description("Plot width in pixels")),
		mcp.WithNumber("height",
			mcp.Description("Plot height in pixels")),
	), s.handle(tools.OpRenderPlot, true))

	s.mcp.AddTool(mcp.NewTool(string(tools.OpAssessBias),
		mcp.WithDescription(tools.Describe(tools.OpAssessBias)),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Target session id")),
		mcp.WithBoolean("funnel_plot",
			mcp.Description("Render a funnel plot")),
		mcp.WithBoolean("egger_test",
			mcp.Description("Run Egger's regression test")),
	), s.handle(tools.OpAssessBias, true))

	s.mcp.AddTool(mcp.NewTool(string(tools.OpGenerateReport),
		mcp.WithDescription(tools.Describe(tools.OpGenerateReport)),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Target session id")),
		mcp.WithString("format",
			mcp.Description("Report format: html, pdf or word")),
	), s.handle(tools.OpGenerateReport, true))

	s.mcp.AddTool(mcp.NewTool(string(tools.OpGetStatus),
		mcp.WithDescription(tools.Describe(tools.OpGetStatus)),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Target session id")),
	), s.handle(tools.OpGetStatus, true))

	s.mcp.AddTool(mcp.NewTool(string(tools.OpExecuteCode),
		mcp.WithDescription(tools.Describe(tools.OpExecuteCode)),
		mcp.WithString("session_id", mcp.Required(),
			mcp.Description("Target session id")),
		mcp.WithString("code", mcp.Required(),
			mcp.Description("R code to run inside the session sandbox")),
	), s.handle(tools.OpExecuteCode, true))
}

// handle adapts one operation to the MCP tool surface. Dispatcher failures
// come back as error results on the protocol, never as Go errors, so the
// listener loop stays alive no matter what the engine does.
func (s *Server) handle(op tools.Operation, requireSession bool) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})

		var sessionID string
		if requireSession {
			id, err := request.RequireString("session_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			sessionID = id
		} else if args != nil {
			sessionID, _ = args["session_id"].(string)
		}

		start := time.Now()
		res := s.dispatcher.Invoke(ctx, sessionID, string(op), args)
		elapsed := time.Since(start)
		s.metrics.Observe(string(op), res, elapsed)

		if !res.OK() {
			s.logger.Warn("invocation failed",
				zap.String("operation", string(op)),
				zap.String("session_id", sessionID),
				zap.String("code", res.Code),
				zap.Duration("elapsed", elapsed))
			return mcp.NewToolResultError(res.JSON()), nil
		}

		s.logger.Info("invocation completed",
			zap.String("operation", string(op)),
			zap.String("session_id", sessionID),
			zap.Duration("elapsed", elapsed))
		return mcp.NewToolResultText(res.JSON()), nil
	}
}
