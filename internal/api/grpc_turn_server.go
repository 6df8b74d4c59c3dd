package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stockipv/server/internal/logger"
	"stockipv/server/internal/models"
	"stockipv/server/internal/repository"
	"stockipv/server/internal/services"
)

const turnServiceName = "stockipv.v1.TurnService"

// TurnServiceServer gRPC сервис смен. Запрос {"id": "..."}, ответ - карточка смены.
type TurnServiceServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Confirm(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Assign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Validate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Close(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type turnCall func(TurnServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func turnHandler(method string, call turnCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TurnServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + turnServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TurnServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// TurnServiceDesc описание сервиса для grpc.Server (payload - google.protobuf.Struct)
var TurnServiceDesc = grpc.ServiceDesc{
	ServiceName: turnServiceName,
	HandlerType: (*TurnServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: turnHandler("Get", TurnServiceServer.Get)},
		{MethodName: "Confirm", Handler: turnHandler("Confirm", TurnServiceServer.Confirm)},
		{MethodName: "Assign", Handler: turnHandler("Assign", TurnServiceServer.Assign)},
		{MethodName: "Validate", Handler: turnHandler("Validate", TurnServiceServer.Validate)},
		{MethodName: "Close", Handler: turnHandler("Close", TurnServiceServer.Close)},
		{MethodName: "Cancel", Handler: turnHandler("Cancel", TurnServiceServer.Cancel)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockipv/v1/turn.proto",
}

// TurnGRPCServer реализация TurnServiceServer поверх IPVService
type TurnGRPCServer struct {
	turns *services.IPVService
}

// NewTurnGRPCServer создает gRPC сервер смен
func NewTurnGRPCServer(turns *services.IPVService) *TurnGRPCServer {
	return &TurnGRPCServer{turns: turns}
}

// NewGRPCServer собирает grpc.Server с сервисом смен, health и проверкой JWT
func NewGRPCServer(turns *services.IPVService, auth *services.AuthService) (*grpc.Server, *health.Server) {
	var opts []grpc.ServerOption
	if auth != nil {
		opts = append(opts, grpc.UnaryInterceptor(authInterceptor(auth)))
	}
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&TurnServiceDesc, NewTurnGRPCServer(turns))

	hs := health.NewServer()
	hs.SetServingStatus(turnServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func authInterceptor(auth *services.AuthService) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "требуется авторизация")
		}
		if _, err := auth.ParseToken(strings.TrimPrefix(values[0], "Bearer ")); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

func turnID(in *structpb.Struct) (string, error) {
	v, ok := in.GetFields()["id"]
	if !ok || v.GetStringValue() == "" {
		return "", status.Error(codes.InvalidArgument, "не указан id смены")
	}
	return v.GetStringValue(), nil
}

// grpcError переводит ошибку сервиса в gRPC статус
func grpcError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case services.IsUserError(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		logger.Log.WithError(err).Error("❌ gRPC: внутренняя ошибка")
		return status.Error(codes.Internal, err.Error())
	}
}

// turnStruct карточка смены в виде Struct (тот же JSON, что отдает HTTP)
func turnStruct(ipv *models.IPV) (*structpb.Struct, error) {
	data, err := json.Marshal(ipv)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *TurnGRPCServer) run(ctx context.Context, in *structpb.Struct, fn func(context.Context, string) (*models.IPV, error)) (*structpb.Struct, error) {
	id, err := turnID(in)
	if err != nil {
		return nil, err
	}
	ipv, err := fn(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return turnStruct(ipv)
}

func (s *TurnGRPCServer) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, in, s.turns.GetTurn)
}

func (s *TurnGRPCServer) Confirm(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, in, s.turns.Confirm)
}

func (s *TurnGRPCServer) Assign(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, in, s.turns.Assign)
}

func (s *TurnGRPCServer) Validate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, in, s.turns.Validate)
}

func (s *TurnGRPCServer) Close(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, in, s.turns.Close)
}

func (s *TurnGRPCServer) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, in, s.turns.Cancel)
}
