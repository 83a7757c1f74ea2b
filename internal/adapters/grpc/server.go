package grpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/application"
)

// GatingInternalService is the mesh-internal surface other services use to
// resolve sessions and read gating state without going through HTTP.
type GatingInternalService interface {
	ValidateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAccountAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type GatingInternalServer struct {
	service *application.Service
}

func NewGatingInternalServer(service *application.Service) *GatingInternalServer {
	return &GatingInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc GatingInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "viralforge.gating.v1.GatingInternalService",
		HandlerType: (*GatingInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ValidateSession",
				Handler:    validateSessionHandler(svc),
			},
			{
				MethodName: "GetAccountAccess",
				Handler:    getAccountAccessHandler(svc),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "mesh/contracts/proto/gating/v1/gating_internal.proto",
	}, svc)
}

func (s *GatingInternalServer) ValidateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tokenVal := req.GetFields()["token"]
	if tokenVal == nil || tokenVal.GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}

	actor, err := s.service.ResolveActor(ctx, tokenVal.GetStringValue())
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid session")
	}

	resp, err := structpb.NewStruct(map[string]any{
		"valid":      true,
		"account_id": actor.AccountID.String(),
		"role":       actor.Role,
		"session_id": actor.SessionID.String(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *GatingInternalServer) GetAccountAccess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	idVal := req.GetFields()["account_id"]
	if idVal == nil || idVal.GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "missing account_id")
	}
	accountID, err := uuid.Parse(idVal.GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid account_id")
	}

	access, err := s.service.AccountAccess(ctx, accountID)
	if err != nil {
		return nil, status.Error(codes.NotFound, "account not found")
	}

	resp, err := structpb.NewStruct(map[string]any{
		"account_id":     access.AccountID.String(),
		"account_status": string(access.AccountStatus),
		"email_verified": access.EmailVerified,
		"kyc_fee_paid":   access.KYCFeePaid,
		"role":           access.Role,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func validateSessionHandler(svc GatingInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.ValidateSession(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/viralforge.gating.v1.GatingInternalService/ValidateSession",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.ValidateSession(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func getAccountAccessHandler(svc GatingInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.GetAccountAccess(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/viralforge.gating.v1.GatingInternalService/GetAccountAccess",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.GetAccountAccess(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
