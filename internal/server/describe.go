package server

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// DescribeProcedure is the Connect procedure answering with the running
// artifact's metadata. It uses well-known types only, so clients need no
// generated code.
const DescribeProcedure = "/bootseq.v1.AppService/Describe"

type DescribeHandler struct {
	info AppInfo
}

func NewDescribeHandler(info AppInfo) *DescribeHandler {
	return &DescribeHandler{info: info}
}

// Handler returns the mount path and the Connect handler.
func (h *DescribeHandler) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	return DescribeProcedure, connect.NewUnaryHandler(DescribeProcedure, h.Describe, opts...)
}

func (h *DescribeHandler) Describe(_ context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	reqs := make([]any, 0, len(h.info.Requirements))
	for _, r := range h.info.Requirements {
		reqs = append(reqs, map[string]any{"name": r.Name, "version": r.Version})
	}
	msg, err := structpb.NewStruct(map[string]any{
		"app_name":     h.info.Name,
		"version":      h.info.Version,
		"artifact_id":  h.info.ArtifactID,
		"base":         h.info.Base,
		"requirements": reqs,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode description: %w", err))
	}
	return connect.NewResponse(msg), nil
}
