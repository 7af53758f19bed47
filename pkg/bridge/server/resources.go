package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
)

const sessionURIPrefix = "metabridge://sessions"

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource(
		sessionURIPrefix,
		"sessions",
		mcp.WithResourceDescription("All meta-analysis sessions under the sandbox root"),
		mcp.WithMIMEType("application/json"),
	), s.listSessions)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(
		sessionURIPrefix+"/{id}",
		"session-info",
		mcp.WithTemplateDescription("Metadata and data/result availability for one session"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.sessionInfo)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(
		sessionURIPrefix+"/{id}/results",
		"session-results",
		mcp.WithTemplateDescription("Result artifacts produced for one session"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.sessionResults)
}

func (s *Server) listSessions(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	metas, err := s.registry.List()
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, map[string]interface{}{
		"count":    len(metas),
		"sessions": metas,
	})
}

func (s *Server) sessionInfo(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, ok := sessionIDFromURI(request.Params.URI, "")
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			"malformed session resource URI", nil)
	}
	sess, err := s.registry.Resolve(id)
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, map[string]interface{}{
		"session_id":     sess.ID,
		"name":           sess.Metadata.Name,
		"study_type":     sess.Metadata.StudyType,
		"effect_measure": sess.Metadata.EffectMeasure,
		"analysis_model": sess.Metadata.AnalysisModel,
		"created":        sess.Metadata.Created,
		"status":         sess.Metadata.Status,
		"has_data":       sess.HasData(),
		"has_results":    sess.HasResults(),
	})
}

func (s *Server) sessionResults(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, ok := sessionIDFromURI(request.Params.URI, "/results")
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
			"malformed session results URI", nil)
	}
	sess, err := s.registry.Resolve(id)
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, map[string]interface{}{
		"session_id":   sess.ID,
		"has_results":  sess.HasResults(),
		"result_files": sess.ResultFiles(),
	})
}

// sessionIDFromURI extracts the id segment from a session URI with the given
// suffix, e.g. metabridge://sessions/<id>/results.
func sessionIDFromURI(uri, suffix string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, sessionURIPrefix+"/")
	if !ok {
		return "", false
	}
	if suffix != "" {
		rest, ok = strings.CutSuffix(rest, suffix)
		if !ok {
			return "", false
		}
	}
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func jsonContents(uri string, value interface{}) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
