// Package server implements the gRPC CMS engine service
package server

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/cmsengine/internal/logger"
	"github.com/nainya/cmsengine/internal/metrics"
	"github.com/nainya/cmsengine/pkg/clock"
	"github.com/nainya/cmsengine/pkg/layout"
	"github.com/nainya/cmsengine/pkg/node"
	"github.com/nainya/cmsengine/pkg/resolve"
	"github.com/nainya/cmsengine/pkg/version"
	"github.com/nainya/cmsengine/pkg/widget"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "cmsengine.v1.Engine"

// EngineServer is the server API. Every message is a google.protobuf.Struct
// whose fields are documented on the implementing methods.
type EngineServer interface {
	ResolveSlot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolvePage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CurrentVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListVersions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PublishVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnpublishNode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RestoreVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(EngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call method) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(EngineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the engine service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ResolveSlot", EngineServer.ResolveSlot),
		unary("ResolvePage", EngineServer.ResolvePage),
		unary("CurrentVersion", EngineServer.CurrentVersion),
		unary("ListVersions", EngineServer.ListVersions),
		unary("CreateVersion", EngineServer.CreateVersion),
		unary("PublishVersion", EngineServer.PublishVersion),
		unary("UnpublishNode", EngineServer.UnpublishNode),
		unary("RestoreVersion", EngineServer.RestoreVersion),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cmsengine/v1/engine.proto",
}

// Register attaches srv to a gRPC server
func Register(s grpc.ServiceRegistrar, srv EngineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Deps are the collaborators a Server needs
type Deps struct {
	Nodes    node.Source
	Versions version.Store
	Writer   *version.Writer
	Resolver *resolve.Resolver
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Log      *logger.Logger
}

// Server implements EngineServer
type Server struct {
	Deps
}

// NewServer creates a server. Clock and Log default to the real clock and
// a discarding logger.
func NewServer(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Server{Deps: deps}
}

func reply(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// toStatus maps engine errors onto gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, version.ErrInvalidWindow):
		code = codes.InvalidArgument
	case errors.Is(err, node.ErrNotFound), errors.Is(err, version.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, layout.ErrConfiguration), errors.Is(err, version.ErrNotPublished), errors.Is(err, version.ErrNoContent):
		code = codes.FailedPrecondition
	case errors.Is(err, resolve.ErrCycleDetected):
		code = codes.DataLoss
	case errors.Is(err, version.ErrConflict):
		code = codes.Aborted
	case errors.Is(err, node.ErrStoreUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

func (s *Server) recordWrite(op string, err error) {
	if s.Metrics != nil {
		s.Metrics.RecordVersionWrite(op, err)
	}
}

func (s *Server) recordResolution(r *resolve.ResolvedSlot, err error) {
	if s.Metrics == nil {
		return
	}
	if err != nil {
		s.Metrics.RecordResolution(false, 0, 0, 0, err)
		return
	}
	s.Metrics.RecordResolution(r.MergeMode, r.LevelsVisited, len(r.Widgets), r.HiddenCount(), nil)
}

// ResolveSlot takes {node_id, slot, at?, layout?, selection?} and returns the
// resolved slot with widgets and raw inherited entries
func (s *Server) ResolveSlot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := args(in.AsMap())
	req, err := resolveRequest(a)
	if err != nil {
		return nil, toStatus(err)
	}
	if req.Slot, err = a.required("slot"); err != nil {
		return nil, toStatus(err)
	}

	res, err := s.Resolver.Resolve(ctx, req)
	s.recordResolution(res, err)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(encodeSlot(res))
}

func resolveRequest(a args) (resolve.Request, error) {
	var req resolve.Request
	var err error
	if req.NodeID, err = a.required("node_id"); err != nil {
		return req, err
	}
	if req.Layout, err = a.str("layout"); err != nil {
		return req, err
	}
	if req.Selection, err = a.selection(); err != nil {
		return req, err
	}
	at, err := a.time("at")
	if err != nil {
		return req, err
	}
	if at != nil {
		req.At = *at
	}
	return req, nil
}

// ResolvePage takes {node_id, slots?, at?, layout?, selection?}. Slots with a
// missing policy come back empty and are listed under errors.
func (s *Server) ResolvePage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := args(in.AsMap())
	req, err := resolveRequest(a)
	if err != nil {
		return nil, toStatus(err)
	}
	slots, err := a.strings("slots")
	if err != nil {
		return nil, toStatus(err)
	}

	page, err := s.Resolver.ResolvePage(ctx, resolve.PageRequest{
		NodeID:    req.NodeID,
		Slots:     slots,
		At:        req.At,
		Layout:    req.Layout,
		Selection: req.Selection,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	outSlots := make(map[string]any, len(page.Slots))
	for name, r := range page.Slots {
		outSlots[name] = encodeSlot(r)
		if _, failed := page.Errors[name]; !failed {
			s.recordResolution(r, nil)
		}
	}
	outErrors := make(map[string]any, len(page.Errors))
	for name, e := range page.Errors {
		outErrors[name] = e.Error()
	}
	if s.Metrics != nil {
		s.Metrics.RecordSlotConfigErrors(len(page.Errors))
	}

	return reply(map[string]any{
		"node_id": page.NodeID,
		"layout":  page.Layout,
		"at":      formatTime(page.At),
		"slots":   outSlots,
		"errors":  outErrors,
	})
}

// CurrentVersion takes {node_id, at?} and returns {found, version?}. A node
// with only drafts is not an error; found is false.
func (s *Server) CurrentVersion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := args(in.AsMap())
	nodeID, err := a.required("node_id")
	if err != nil {
		return nil, toStatus(err)
	}
	at := s.Clock.Now()
	if t, err := a.time("at"); err != nil {
		return nil, toStatus(err)
	} else if t != nil {
		at = *t
	}

	if _, err := s.Nodes.Node(ctx, nodeID); err != nil {
		return nil, toStatus(err)
	}
	versions, err := s.Versions.Versions(ctx, nodeID)
	if err != nil {
		return nil, toStatus(err)
	}

	live, ok := version.CurrentPublished(versions, at)
	if !ok {
		return reply(map[string]any{"found": false})
	}
	return reply(map[string]any{"found": true, "version": encodeVersion(live.Version, at)})
}

// ListVersions takes {node_id} and returns every version with its status
func (s *Server) ListVersions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	nodeID, err := args(in.AsMap()).required("node_id")
	if err != nil {
		return nil, toStatus(err)
	}
	history, err := s.Writer.History(ctx, nodeID)
	if err != nil {
		return nil, toStatus(err)
	}

	now := s.Clock.Now()
	list := make([]any, len(history))
	for i, h := range history {
		list[i] = encodeVersion(h.Version, now)
	}
	return reply(map[string]any{"node_id": nodeID, "versions": list})
}

// CreateVersion takes {node_id, widgets?, layout_ref?, theme_ref?, author?,
// description?, publish?, effective_date?, expiry_date?}. Malformed widget
// entries are dropped and logged, not rejected.
func (s *Server) CreateVersion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := args(in.AsMap())
	req, err := createRequest(a)
	if err != nil {
		return nil, toStatus(err)
	}
	if raw, ok := a["widgets"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, toStatus(fmt.Errorf("%w: widgets must be an object", errBadRequest))
		}
		req.Widgets = widget.DecodeSlots(m, s.Log.Component("decoder").With().Str("node_id", req.NodeID).Logger())
	}

	if _, err := s.Nodes.Node(ctx, req.NodeID); err != nil {
		return nil, toStatus(err)
	}
	v, err := s.Writer.Create(ctx, req)
	s.recordWrite("create", err)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"version": encodeVersion(v, s.Clock.Now())})
}

func createRequest(a args) (version.CreateRequest, error) {
	var req version.CreateRequest
	var err error
	if req.NodeID, err = a.required("node_id"); err != nil {
		return req, err
	}
	if req.LayoutRef, err = a.str("layout_ref"); err != nil {
		return req, err
	}
	if req.ThemeRef, err = a.str("theme_ref"); err != nil {
		return req, err
	}
	if req.Author, err = a.str("author"); err != nil {
		return req, err
	}
	if req.Description, err = a.str("description"); err != nil {
		return req, err
	}
	if req.Publish, err = a.boolean("publish"); err != nil {
		return req, err
	}
	if req.EffectiveDate, err = a.time("effective_date"); err != nil {
		return req, err
	}
	if req.ExpiryDate, err = a.time("expiry_date"); err != nil {
		return req, err
	}
	return req, nil
}

// PublishVersion takes {node_id, number, effective_date?}
func (s *Server) PublishVersion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := args(in.AsMap())
	nodeID, err := a.required("node_id")
	if err != nil {
		return nil, toStatus(err)
	}
	number, err := a.number("number")
	if err != nil {
		return nil, toStatus(err)
	}
	effective, err := a.time("effective_date")
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.Writer.Publish(ctx, nodeID, number, effective)
	s.recordWrite("publish", err)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"version": encodeVersion(v, s.Clock.Now())})
}

// UnpublishNode takes {node_id, author?} and returns the new draft
func (s *Server) UnpublishNode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := args(in.AsMap())
	nodeID, err := a.required("node_id")
	if err != nil {
		return nil, toStatus(err)
	}
	author, err := a.str("author")
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.Writer.Unpublish(ctx, nodeID, author)
	s.recordWrite("unpublish", err)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"version": encodeVersion(v, s.Clock.Now())})
}

// RestoreVersion takes {node_id, number, author?} and returns the new draft
func (s *Server) RestoreVersion(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := args(in.AsMap())
	nodeID, err := a.required("node_id")
	if err != nil {
		return nil, toStatus(err)
	}
	number, err := a.number("number")
	if err != nil {
		return nil, toStatus(err)
	}
	author, err := a.str("author")
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.Writer.Restore(ctx, nodeID, number, author)
	s.recordWrite("restore", err)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"version": encodeVersion(v, s.Clock.Now())})
}
