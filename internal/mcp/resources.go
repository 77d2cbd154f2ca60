package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mathmentor/internal/model"
)

const (
	statsURI      = "mathmentor://stats"
	runURIPrefix  = "mathmentor://runs/"
	runURIPattern = runURIPrefix + "{id}"
)

func (s *Server) registerResources() {
	// mathmentor://stats: aggregate progress.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			statsURI,
			"Statistics",
			mcplib.WithResourceDescription("Problems solved, success rate and per-topic progress"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	// mathmentor://runs/{id}: one run record.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			runURIPattern,
			"Run",
			mcplib.WithTemplateDescription("A recorded run with its stage trace"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleRunResource,
	)
}

func (s *Server) handleStatsResource(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	st, err := s.svc.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: stats resource: %w", err)
	}
	return jsonContents(statsURI, st)
}

func (s *Server) handleRunResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	raw, ok := strings.CutPrefix(uri, runURIPrefix)
	if !ok {
		return nil, fmt.Errorf("mcp: invalid run URI: %s", uri)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("mcp: invalid run id in %s", uri)
	}
	r, err := s.svc.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: run resource: %w", err)
	}
	return jsonContents(uri, model.NewRunView(r, false))
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
