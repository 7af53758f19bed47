package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("meta_analysis_workflow",
		mcp.WithPromptDescription("Step-by-step guidance for running a complete meta-analysis"),
	), func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return mcp.NewGetPromptResult(
			"Meta-analysis workflow",
			[]mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(workflowPrompt)),
			},
		), nil
	})

	s.mcp.AddPrompt(mcp.NewPrompt("methodology_guidance",
		mcp.WithPromptDescription("Methodological guidance for a specific stage of the analysis"),
		mcp.WithArgument("stage",
			mcp.ArgumentDescription("One of: planning, extraction, analysis, reporting")),
	), func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		stage := request.Params.Arguments["stage"]
		text, ok := stageGuidance[stage]
		if !ok {
			text = stageGuidance["planning"]
		}
		return mcp.NewGetPromptResult(
			"Methodology guidance: "+stage,
			[]mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
			},
		), nil
	})
}

const workflowPrompt = `Guide the user through a meta-analysis with these steps:

1. Clarify the research question and the effect measure (OR, RR, MD, SMD, HR).
2. Call initialize_session with the study type and effect measure.
3. Ask for the study data and call upload_data; confirm the column mapping
   (study id, effect estimate, standard error or event counts).
4. Call run_analysis; report the pooled estimate, its confidence interval,
   and the heterogeneity statistics (I2, tau2, Q).
5. Call render_plot for a forest plot and assess_bias when ten or more
   studies are included.
6. Call generate_report and summarize the findings with their limitations.

Interpret results cautiously: high heterogeneity (I2 > 75%) usually calls
for a random-effects model and an investigation of its sources.`

var stageGuidance = map[string]string{
	"planning": `Before any analysis, establish the PICO question, the
eligibility criteria, and a pre-specified effect measure. Decide between
fixed-effect and random-effects pooling on clinical grounds, not after
seeing the data.`,
	"extraction": `Extract data in duplicate where possible. For binary
outcomes record events and totals per arm; for continuous outcomes record
means, standard deviations and group sizes. Note unit-of-analysis issues
such as cluster trials and multi-arm studies.`,
	"analysis": `Report the pooled estimate with its 95% confidence interval
and the heterogeneity statistics (Q, I2, tau2). Use prediction intervals
with random-effects models. Run sensitivity analyses excluding high
risk-of-bias studies.`,
	"reporting": `Follow PRISMA: flow diagram, study characteristics table,
forest plot, and a funnel plot with Egger's test when at least ten studies
contribute. State the between-study variance estimator that was used.`,
}
